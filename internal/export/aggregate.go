package export

import (
	"touchmap/internal/render"
	"touchmap/internal/touch"
)

// Aggregation defaults.
const (
	DefaultWeight        = 1.0
	DefaultMaxPerSession = 40.0
)

// Aggregate flattens the touches of every session into weighted points,
// in session order and then touch order. The intensity ceiling scales
// with the number of sessions so that a heavily used area saturates at
// the same relative density however many sessions are combined.
func Aggregate(sessions []touch.Session, weight, maxPerSession float64) (points []render.Point, ceiling float64) {
	n := 0
	for _, s := range sessions {
		n += len(s.Touches)
	}
	points = make([]render.Point, 0, n)
	for _, s := range sessions {
		for _, m := range s.Touches {
			points = append(points, render.Point{
				X:      m.Coordinates.X,
				Y:      m.Coordinates.Y,
				Weight: weight,
			})
		}
	}
	return points, maxPerSession * float64(len(sessions))
}
