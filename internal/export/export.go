// Package export combines stored sessions into a point cloud and asks a
// renderer for the heatmap image.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"touchmap/internal/metrics"
	"touchmap/internal/render"
	"touchmap/internal/session"
	"touchmap/internal/touch"
)

// DefaultTimeout is how long an export waits for the renderer.
const DefaultTimeout = 10 * time.Second

// ErrNoImage is returned when the renderer produced no image.
var ErrNoImage = errors.New("renderer produced no image")

// TimeoutError is returned when the renderer did not reply in time. It
// wraps ErrNoImage.
type TimeoutError struct {
	CanvasID string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("export %s: no image after %s", e.CanvasID, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return ErrNoImage
}

// Closer closes and persists the current session.
type Closer interface {
	CloseAndPersist(ctx context.Context) (touch.Session, error)
}

// Lister returns every stored session in a stable order.
type Lister interface {
	GetAllAsList(ctx context.Context) ([]touch.Session, error)
}

// Options configures a Coordinator. Zero values select the defaults.
type Options struct {
	Weight        float64
	MaxPerSession float64
	Timeout       time.Duration
	// Geometry sizes the canvas. Nil means a zero size.
	Geometry session.Geometry
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Result is a finished export.
type Result struct {
	Image    render.Image
	CanvasID string
	Sessions int
	Points   int
	Max      float64
}

// Coordinator runs exports.
type Coordinator struct {
	closer   Closer
	lister   Lister
	renderer render.Renderer

	weight        float64
	maxPerSession float64
	timeout       time.Duration
	geometry      session.Geometry
	logger        *slog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

// New creates a Coordinator.
func New(closer Closer, lister Lister, renderer render.Renderer, opts Options) *Coordinator {
	if opts.Weight <= 0 {
		opts.Weight = DefaultWeight
	}
	if opts.MaxPerSession <= 0 {
		opts.MaxPerSession = DefaultMaxPerSession
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Geometry == nil {
		opts.Geometry = session.StaticGeometry{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		closer:        closer,
		lister:        lister,
		renderer:      renderer,
		weight:        opts.Weight,
		maxPerSession: opts.MaxPerSession,
		timeout:       opts.Timeout,
		geometry:      opts.Geometry,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		now:           opts.Now,
	}
}

// Timeout returns how long an export waits for the renderer.
func (c *Coordinator) Timeout() time.Duration {
	return c.timeout
}

// Export closes and persists the current session, then renders either
// that session alone (currentOnly) or every stored session.
//
// Each call waits on its own reply; concurrent exports do not affect
// each other.
func (c *Coordinator) Export(ctx context.Context, currentOnly bool) (Result, error) {
	started := time.Now()
	canvasID := strconv.FormatInt(c.now().UnixMilli(), 10)

	current, err := c.closer.CloseAndPersist(ctx)
	hasCurrent := true
	if errors.Is(err, session.ErrNoSession) {
		hasCurrent = false
	} else if err != nil {
		c.metrics.RecordExport(metrics.OutcomeError, time.Since(started))
		return Result{}, fmt.Errorf("export: %w", err)
	}

	var sessions []touch.Session
	if currentOnly {
		if hasCurrent {
			sessions = []touch.Session{current}
		}
	} else {
		sessions, err = c.lister.GetAllAsList(ctx)
		if err != nil {
			c.metrics.RecordExport(metrics.OutcomeError, time.Since(started))
			return Result{}, fmt.Errorf("export: list sessions: %w", err)
		}
	}

	points, ceiling := Aggregate(sessions, c.weight, c.maxPerSession)
	size := c.geometry.DeviceSize()
	req := render.Request{
		CanvasID: canvasID,
		Points:   points,
		Max:      ceiling,
		Width:    size.Width,
		Height:   size.Height,
	}
	c.logger.Debug("export requested",
		"canvas_id", req.CanvasID,
		"current_only", currentOnly,
		"sessions", len(sessions),
		"points", len(points),
		"max", ceiling,
	)

	img, err := c.await(ctx, req)
	if err != nil {
		c.logger.Warn("export failed", "canvas_id", req.CanvasID, "error", err)
		return Result{}, err
	}
	c.metrics.RecordExport(metrics.OutcomeOK, time.Since(started))
	return Result{
		Image:    img,
		CanvasID: req.CanvasID,
		Sessions: len(sessions),
		Points:   len(points),
		Max:      ceiling,
	}, nil
}

func (c *Coordinator) await(ctx context.Context, req render.Request) (render.Image, error) {
	started := time.Now()
	renderCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case img, ok := <-c.renderer.Render(renderCtx, req):
		if !ok {
			c.metrics.RecordExport(metrics.OutcomeNoImage, time.Since(started))
			return render.Image{}, fmt.Errorf("export %s: %w", req.CanvasID, ErrNoImage)
		}
		return img, nil
	case <-timer.C:
		c.metrics.RecordExport(metrics.OutcomeTimeout, time.Since(started))
		return render.Image{}, &TimeoutError{CanvasID: req.CanvasID, Timeout: c.timeout}
	case <-ctx.Done():
		c.metrics.RecordExport(metrics.OutcomeCanceled, time.Since(started))
		return render.Image{}, ctx.Err()
	}
}
