// Package session owns the lifecycle of the current touch session.
//
// The Controller starts sessions on layout or reset, appends touches
// delivered by the tracker, and closes and persists the session when the
// application leaves the foreground or an export is requested.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"touchmap/internal/metrics"
	"touchmap/internal/touch"
)

// ErrNoSession is returned by CloseAndPersist before any session has
// started.
var ErrNoSession = errors.New("no current session")

// AppState is the host application's foreground state.
type AppState string

const (
	StateActive     AppState = "active"
	StateBackground AppState = "background"
	StateInactive   AppState = "inactive"
)

// ParseAppState parses an application state name.
func ParseAppState(s string) (AppState, error) {
	switch st := AppState(strings.ToLower(strings.TrimSpace(s))); st {
	case StateActive, StateBackground, StateInactive:
		return st, nil
	default:
		return "", fmt.Errorf("unknown app state: %q", s)
	}
}

// Persister stores session snapshots.
type Persister interface {
	Save(ctx context.Context, sess touch.Session) error
	ClearAll(ctx context.Context) error
}

// Options configures a Controller.
type Options struct {
	// Geometry is queried for every new session. Nil means a zero size.
	Geometry Geometry
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	// Now overrides the clock.
	Now func() time.Time
}

// Controller owns the current session.
type Controller struct {
	mu      sync.Mutex
	current *touch.Session
	lastMs  int64

	store    Persister
	geometry Geometry
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New creates a controller that saves sessions to store.
func New(store Persister, opts Options) *Controller {
	if opts.Geometry == nil {
		opts.Geometry = StaticGeometry{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		store:    store,
		geometry: opts.Geometry,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
}

// StartNew replaces the current session with a new empty one and
// returns a copy of it. The previous session is not persisted.
func (c *Controller) StartNew() touch.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked().Clone()
}

func (c *Controller) startLocked() *touch.Session {
	start := c.now()
	// Two sessions started within the same millisecond would share an id.
	if ms := start.UnixMilli(); ms <= c.lastMs {
		start = time.UnixMilli(c.lastMs + 1).In(start.Location())
	}
	c.lastMs = start.UnixMilli()

	c.current = touch.NewSession(start, c.geometry.DeviceSize())
	c.metrics.RecordSessionStarted()
	c.logger.Debug("session started",
		"session_id", c.current.ID,
		"width", c.current.DeviceSize.Width,
		"height", c.current.DeviceSize.Height,
	)
	return c.current
}

// Append adds a finalized touch to the current session, starting one if
// capture began before the first layout.
func (c *Controller) Append(m touch.Meta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		c.startLocked()
	}
	c.current.Append(m)
	c.metrics.RecordTouch()
}

// Current returns a copy of the current session. ok is false before the
// first session starts.
func (c *Controller) Current() (sess touch.Session, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return touch.Session{}, false
	}
	return c.current.Clone(), true
}

// CloseAndPersist stamps the current session's end time and saves a
// snapshot. The session stays current, so touches recorded afterwards
// land in it and are saved by the next close.
//
// Storage failures follow the persister's policy; a lenient store logs
// them and this returns nil.
func (c *Controller) CloseAndPersist(ctx context.Context) (touch.Session, error) {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return touch.Session{}, ErrNoSession
	}
	c.current.Close(c.now())
	snapshot := c.current.Clone()
	c.mu.Unlock()

	if err := c.store.Save(ctx, snapshot); err != nil {
		c.logger.Error("persist session", "session_id", snapshot.ID, "error", err)
		return snapshot, fmt.Errorf("persist session %s: %w", snapshot.ID, err)
	}
	c.logger.Debug("session persisted", "session_id", snapshot.ID, "touches", len(snapshot.Touches))
	return snapshot, nil
}

// ClearAll starts a fresh session and wipes every stored session.
func (c *Controller) ClearAll(ctx context.Context) error {
	c.StartNew()
	if err := c.store.ClearAll(ctx); err != nil {
		c.logger.Error("clear sessions", "error", err)
		return fmt.Errorf("clear sessions: %w", err)
	}
	return nil
}

// HandleAppState reacts to a foreground state change. Leaving the
// foreground closes and persists the current session.
func (c *Controller) HandleAppState(ctx context.Context, state AppState) error {
	switch state {
	case StateBackground, StateInactive:
		_, err := c.CloseAndPersist(ctx)
		if errors.Is(err, ErrNoSession) {
			return nil
		}
		return err
	case StateActive:
		return nil
	default:
		return fmt.Errorf("unknown app state: %q", state)
	}
}
