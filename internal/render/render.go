// Package render defines the contract between the exporter and the
// component that turns a weighted point cloud into a heatmap image, and
// provides a PNG implementation of it.
package render

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Point is one weighted sample. It is encoded as a JSON array
// [x, y, weight].
type Point struct {
	X      float64
	Y      float64
	Weight float64
}

// MarshalJSON encodes p as [x, y, weight].
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]float64{p.X, p.Y, p.Weight})
}

// UnmarshalJSON decodes [x, y, weight].
func (p *Point) UnmarshalJSON(data []byte) error {
	var v []float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode point: %w", err)
	}
	if len(v) != 3 {
		return fmt.Errorf("decode point: want 3 values, got %d", len(v))
	}
	p.X, p.Y, p.Weight = v[0], v[1], v[2]
	return nil
}

// Request asks a renderer for one image.
type Request struct {
	// CanvasID identifies the request; renderers echo it in logs.
	CanvasID string  `json:"canvasId"`
	Points   []Point `json:"points"`
	// Max is the weight that maps to full intensity.
	Max    float64 `json:"max"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Image is an encoded raster image.
type Image struct {
	MIMEType string
	Data     []byte
}

// DataURI returns the image as a base64 data URI.
func (img Image) DataURI() string {
	return "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// Renderer draws heatmaps. Render must return immediately; the image is
// delivered on the returned channel, which is closed without a value if
// rendering fails.
type Renderer interface {
	Render(ctx context.Context, req Request) <-chan Image
}

// Func adapts a synchronous render function to Renderer. The function
// runs on its own goroutine.
type Func func(ctx context.Context, req Request) (Image, error)

// Render implements Renderer.
func (f Func) Render(ctx context.Context, req Request) <-chan Image {
	out := make(chan Image, 1)
	go func() {
		defer close(out)
		img, err := f(ctx, req)
		if err != nil {
			return
		}
		out <- img
	}()
	return out
}
