package touchmap

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"touchmap/internal/touch"
)

var (
	// ErrUnknownRegion is returned when pressing an unregistered region.
	ErrUnknownRegion = errors.New("unknown region")
	// ErrDuplicateRegion is returned when registering an id twice.
	ErrDuplicateRegion = errors.New("region already registered")
)

// Region is a tappable area of the host view. Pressing it records a tap
// before its own handler runs.
type Region struct {
	ID          string
	OnPress     func()
	OnLongPress func()
}

type registry struct {
	mu      sync.RWMutex
	regions map[string]Region
}

func newRegistry() *registry {
	return &registry{regions: make(map[string]Region)}
}

// Register adds r. Ids must be unique and non-empty.
func (t *Touchmap) Register(r Region) error {
	if r.ID == "" {
		return errors.New("region id is empty")
	}
	t.regions.mu.Lock()
	defer t.regions.mu.Unlock()
	if _, ok := t.regions.regions[r.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRegion, r.ID)
	}
	t.regions.regions[r.ID] = r
	return nil
}

// Unregister removes the region with id, if any.
func (t *Touchmap) Unregister(id string) {
	t.regions.mu.Lock()
	defer t.regions.mu.Unlock()
	delete(t.regions.regions, id)
}

// Regions returns the registered region ids in sorted order.
func (t *Touchmap) Regions() []string {
	t.regions.mu.RLock()
	defer t.regions.mu.RUnlock()
	ids := make([]string, 0, len(t.regions.regions))
	for id := range t.regions.regions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Press records a tap at the given point and then runs the region's
// press handler.
func (t *Touchmap) Press(id string, at touch.Coordinates, ts time.Time) error {
	return t.activate(id, at, ts, func(r Region) func() { return r.OnPress })
}

// LongPress records a tap at the given point and then runs the region's
// long-press handler.
func (t *Touchmap) LongPress(id string, at touch.Coordinates, ts time.Time) error {
	return t.activate(id, at, ts, func(r Region) func() { return r.OnLongPress })
}

func (t *Touchmap) activate(id string, at touch.Coordinates, ts time.Time, handler func(Region) func()) error {
	t.regions.mu.RLock()
	r, ok := t.regions.regions[id]
	t.regions.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRegion, id)
	}

	t.Handle(touch.Signal{Kind: touch.KindTap, Point: at, At: ts})
	if fn := handler(r); fn != nil {
		fn()
	}
	return nil
}
