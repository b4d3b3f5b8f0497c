package session

import "touchmap/internal/touch"

// Geometry reports the size of the surface being recorded.
type Geometry interface {
	DeviceSize() touch.DeviceSize
}

// GeometryFunc adapts a function to Geometry.
type GeometryFunc func() touch.DeviceSize

// DeviceSize calls f.
func (f GeometryFunc) DeviceSize() touch.DeviceSize { return f() }

// StaticGeometry is a fixed surface size.
type StaticGeometry touch.DeviceSize

// DeviceSize returns g.
func (g StaticGeometry) DeviceSize() touch.DeviceSize { return touch.DeviceSize(g) }
