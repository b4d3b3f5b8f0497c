package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"math"
	"sort"
)

// Heatmap defaults.
const (
	DefaultRadius     = 25.0
	DefaultBlur       = 15.0
	DefaultMinOpacity = 0.05
)

// Stop is one color stop of the intensity gradient, at Offset in [0, 1].
type Stop struct {
	Offset float64
	Color  color.NRGBA
}

// DefaultGradient runs from blue through cyan, lime and yellow to red.
func DefaultGradient() []Stop {
	return []Stop{
		{Offset: 0.4, Color: color.NRGBA{R: 0, G: 0, B: 255, A: 255}},
		{Offset: 0.6, Color: color.NRGBA{R: 0, G: 255, B: 255, A: 255}},
		{Offset: 0.7, Color: color.NRGBA{R: 0, G: 255, B: 0, A: 255}},
		{Offset: 0.8, Color: color.NRGBA{R: 255, G: 255, B: 0, A: 255}},
		{Offset: 1.0, Color: color.NRGBA{R: 255, G: 0, B: 0, A: 255}},
	}
}

// HeatmapOptions configures a HeatmapRenderer. Zero values select the
// defaults.
type HeatmapOptions struct {
	Radius     float64
	Blur       float64
	MinOpacity float64
	Gradient   []Stop
	Logger     *slog.Logger
}

// HeatmapRenderer draws point clouds as PNG heatmaps.
type HeatmapRenderer struct {
	radius     float64
	blur       float64
	minOpacity float64
	palette    [256]color.NRGBA
	logger     *slog.Logger
}

// NewHeatmapRenderer creates a renderer.
func NewHeatmapRenderer(opts HeatmapOptions) *HeatmapRenderer {
	if opts.Radius <= 0 {
		opts.Radius = DefaultRadius
	}
	if opts.Blur < 0 {
		opts.Blur = 0
	} else if opts.Blur == 0 {
		opts.Blur = DefaultBlur
	}
	if opts.MinOpacity <= 0 {
		opts.MinOpacity = DefaultMinOpacity
	}
	if len(opts.Gradient) == 0 {
		opts.Gradient = DefaultGradient()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &HeatmapRenderer{
		radius:     opts.Radius,
		blur:       opts.Blur,
		minOpacity: math.Min(opts.MinOpacity, 1),
		palette:    buildPalette(opts.Gradient),
		logger:     opts.Logger,
	}
}

// Render implements Renderer.
func (h *HeatmapRenderer) Render(ctx context.Context, req Request) <-chan Image {
	out := make(chan Image, 1)
	go func() {
		defer close(out)
		img, err := h.RenderPNG(ctx, req)
		if err != nil {
			h.logger.Warn("heatmap render failed", "canvas_id", req.CanvasID, "error", err)
			return
		}
		h.logger.Debug("heatmap rendered",
			"canvas_id", req.CanvasID,
			"points", len(req.Points),
			"bytes", len(img.Data),
		)
		out <- img
	}()
	return out
}

// RenderPNG draws req and encodes it as PNG.
func (h *HeatmapRenderer) RenderPNG(ctx context.Context, req Request) (Image, error) {
	img, err := h.Draw(ctx, req)
	if err != nil {
		return Image{}, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Image{}, fmt.Errorf("encode png: %w", err)
	}
	return Image{MIMEType: "image/png", Data: buf.Bytes()}, nil
}

// Draw renders req into an image. Each point adds a blurred disc of
// intensity weight/max (at least the minimum opacity); the accumulated
// intensity is then mapped through the gradient.
func (h *HeatmapRenderer) Draw(ctx context.Context, req Request) (*image.NRGBA, error) {
	w, ht := int(math.Round(req.Width)), int(math.Round(req.Height))
	if w <= 0 || ht <= 0 {
		return nil, fmt.Errorf("invalid canvas size %vx%v", req.Width, req.Height)
	}
	ceiling := req.Max
	if ceiling <= 0 {
		ceiling = 1
	}

	shade := make([]float64, w*ht)
	reach := h.radius + h.blur
	span := int(math.Ceil(reach))

	for i, p := range req.Points {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		alpha := math.Min(math.Max(p.Weight/ceiling, h.minOpacity), 1)
		cx, cy := int(math.Round(p.X)), int(math.Round(p.Y))
		for y := cy - span; y <= cy+span; y++ {
			if y < 0 || y >= ht {
				continue
			}
			for x := cx - span; x <= cx+span; x++ {
				if x < 0 || x >= w {
					continue
				}
				k := h.falloff(math.Hypot(float64(x-cx), float64(y-cy)))
				if k <= 0 {
					continue
				}
				a := &shade[y*w+x]
				*a += k * alpha * (1 - *a)
			}
		}
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, ht))
	for i, a := range shade {
		if a <= 0 {
			continue
		}
		c := h.palette[int(math.Min(a, 1)*255)]
		c.A = uint8(math.Round(math.Min(a, 1) * 255))
		img.Pix[i*4+0] = c.R
		img.Pix[i*4+1] = c.G
		img.Pix[i*4+2] = c.B
		img.Pix[i*4+3] = c.A
	}
	return img, nil
}

// falloff is the disc profile: full strength up to radius-blur, fading
// smoothly to zero at radius+blur.
func (h *HeatmapRenderer) falloff(d float64) float64 {
	if h.blur == 0 {
		if d <= h.radius {
			return 1
		}
		return 0
	}
	t := (h.radius + h.blur - d) / (2 * h.blur)
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

func buildPalette(gradient []Stop) [256]color.NRGBA {
	stops := append([]Stop(nil), gradient...)
	sort.Slice(stops, func(i, j int) bool { return stops[i].Offset < stops[j].Offset })

	var pal [256]color.NRGBA
	for i := range pal {
		pal[i] = colorAt(stops, float64(i)/255)
	}
	return pal
}

func colorAt(stops []Stop, t float64) color.NRGBA {
	if t <= stops[0].Offset {
		return stops[0].Color
	}
	for i := 1; i < len(stops); i++ {
		lo, hi := stops[i-1], stops[i]
		if t <= hi.Offset {
			f := 0.0
			if hi.Offset > lo.Offset {
				f = (t - lo.Offset) / (hi.Offset - lo.Offset)
			}
			return color.NRGBA{
				R: lerp(lo.Color.R, hi.Color.R, f),
				G: lerp(lo.Color.G, hi.Color.G, f),
				B: lerp(lo.Color.B, hi.Color.B, f),
				A: lerp(lo.Color.A, hi.Color.A, f),
			}
		}
	}
	return stops[len(stops)-1].Color
}

func lerp(a, b uint8, f float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*f))
}
