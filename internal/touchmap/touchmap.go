// Package touchmap is the host-facing component. It receives layout,
// application-state and pointer events from the host, records them as
// touch sessions, and exposes clear, raw and export operations.
package touchmap

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"touchmap/internal/export"
	"touchmap/internal/metrics"
	"touchmap/internal/persist"
	"touchmap/internal/render"
	"touchmap/internal/session"
	"touchmap/internal/touch"
)

// Options configures a Touchmap.
type Options struct {
	// Debug logs every host event.
	Debug bool
	// SessionOnly makes Export render the current session only.
	SessionOnly bool

	// Threshold is the resample distance in pixels. Zero selects
	// touch.DefaultThreshold.
	Threshold     float64
	Weight        float64
	MaxPerSession float64
	ExportTimeout time.Duration

	Geometry session.Geometry
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Touchmap records touches and exports heatmaps.
type Touchmap struct {
	tracker    *touch.Tracker
	controller *session.Controller
	store      *persist.Store
	exporter   *export.Coordinator
	regions    *registry

	debug       atomic.Bool
	sessionOnly bool
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// New wires a Touchmap over store and renderer.
func New(store *persist.Store, renderer render.Renderer, opts Options) *Touchmap {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctrl := session.New(store, session.Options{
		Geometry: opts.Geometry,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
		Now:      opts.Now,
	})
	t := &Touchmap{
		tracker:    touch.NewTracker(ctrl, opts.Threshold),
		controller: ctrl,
		store:      store,
		exporter: export.New(ctrl, store, renderer, export.Options{
			Weight:        opts.Weight,
			MaxPerSession: opts.MaxPerSession,
			Timeout:       opts.ExportTimeout,
			Geometry:      opts.Geometry,
			Logger:        opts.Logger,
			Metrics:       opts.Metrics,
			Now:           opts.Now,
		}),
		regions:     newRegistry(),
		sessionOnly: opts.SessionOnly,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		now:         opts.Now,
	}
	t.debug.Store(opts.Debug)
	return t
}

// SetDebug turns event logging on or off.
func (t *Touchmap) SetDebug(on bool) {
	t.debug.Store(on)
}

// Debug reports whether event logging is on.
func (t *Touchmap) Debug() bool {
	return t.debug.Load()
}

// Layout is called when the host view is laid out. It starts a new
// session.
func (t *Touchmap) Layout() touch.Session {
	sess := t.controller.StartNew()
	if t.debug.Load() {
		t.logger.Info("layout", "session_id", sess.ID, "at", sess.StartTime)
	}
	return sess
}

// AppStateChanged forwards a foreground state change to the session
// controller.
func (t *Touchmap) AppStateChanged(ctx context.Context, state session.AppState) error {
	if t.debug.Load() {
		t.logger.Info("app state changed", "state", string(state), "at", t.now())
	}
	return t.controller.HandleAppState(ctx, state)
}

// TouchStart begins a touch for pointer.
func (t *Touchmap) TouchStart(pointer int, at touch.Coordinates, ts time.Time) touch.Outcome {
	return t.Handle(touch.Signal{Kind: touch.KindBegin, Pointer: pointer, Point: at, At: ts})
}

// TouchMove reports pointer movement.
func (t *Touchmap) TouchMove(pointer int, at touch.Coordinates, ts time.Time) touch.Outcome {
	return t.Handle(touch.Signal{Kind: touch.KindMove, Pointer: pointer, Point: at, At: ts})
}

// TouchEnd ends pointer's touch.
func (t *Touchmap) TouchEnd(pointer int, ts time.Time) touch.Outcome {
	return t.Handle(touch.Signal{Kind: touch.KindEnd, Pointer: pointer, At: ts})
}

// TouchCancel discards pointer's touch.
func (t *Touchmap) TouchCancel(pointer int) touch.Outcome {
	return t.Handle(touch.Signal{Kind: touch.KindCancel, Pointer: pointer, At: t.now()})
}

// AccessibilityTap records an accessibility activation at the given
// point.
func (t *Touchmap) AccessibilityTap(at touch.Coordinates, ts time.Time) touch.Outcome {
	return t.Handle(touch.Signal{Kind: touch.KindTap, Point: at, At: ts})
}

// MagicTap records the two-finger accessibility gesture.
func (t *Touchmap) MagicTap(at touch.Coordinates, ts time.Time) touch.Outcome {
	return t.Handle(touch.Signal{Kind: touch.KindTap, Point: at, At: ts})
}

// Handle applies a pointer signal.
func (t *Touchmap) Handle(sig touch.Signal) touch.Outcome {
	out := t.tracker.Handle(sig)

	switch {
	case out.Ignored:
		t.metrics.RecordOrderingNoop(sig.Kind.String())
	case out.Dropped && sig.Kind == touch.KindCancel:
		t.metrics.RecordCancel()
	}

	if t.debug.Load() {
		t.logger.Info("touch event",
			"kind", sig.Kind.String(),
			"pointer", sig.Pointer,
			"x", sig.Point.X,
			"y", sig.Point.Y,
			"at", sig.At,
			"appended", out.Appended,
			"dropped", out.Dropped,
			"ignored", out.Ignored,
		)
	}
	return out
}

// Current returns a copy of the current session.
func (t *Touchmap) Current() (touch.Session, bool) {
	return t.controller.Current()
}

// Pending returns the number of touches in progress.
func (t *Touchmap) Pending() int {
	return t.tracker.Pending()
}

// Clear starts a new session and removes every stored session.
func (t *Touchmap) Clear(ctx context.Context) error {
	t.tracker.Reset()
	if t.debug.Load() {
		t.logger.Info("clear", "at", t.now())
	}
	return t.controller.ClearAll(ctx)
}

// Raw returns every stored session keyed by id.
func (t *Touchmap) Raw(ctx context.Context) (map[string]touch.Session, error) {
	return t.store.GetAll(ctx)
}

// Export renders a heatmap of the current session if the Touchmap was
// created with SessionOnly, otherwise of every stored session.
func (t *Touchmap) Export(ctx context.Context) (export.Result, error) {
	return t.ExportSessions(ctx, t.sessionOnly)
}

// ExportSessions renders a heatmap of the current session alone or of
// every stored session.
func (t *Touchmap) ExportSessions(ctx context.Context, sessionOnly bool) (export.Result, error) {
	if t.debug.Load() {
		t.logger.Info("export", "session_only", sessionOnly, "at", t.now())
	}
	return t.exporter.Export(ctx, sessionOnly)
}
