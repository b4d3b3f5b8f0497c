package touch

import (
	"sync"
	"time"
)

// DefaultThreshold is the distance in pixels a pointer must travel from
// the origin of its pending touch before the touch is resampled.
const DefaultThreshold = 10.0

// State is the capture state of one pointer.
type State int

const (
	// StateIdle means no touch is pending.
	StateIdle State = iota
	// StateTouching means a touch has begun and is not yet finalized.
	StateTouching
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTouching:
		return "touching"
	default:
		return "unknown"
	}
}

// Appender receives finalized touches.
type Appender interface {
	Append(m Meta)
}

// AppenderFunc adapts a function to Appender.
type AppenderFunc func(m Meta)

// Append calls f(m).
func (f AppenderFunc) Append(m Meta) { f(m) }

// Tracker converts pointer signals into touch records. Each pointer has
// at most one pending touch. All transitions are synchronous.
type Tracker struct {
	mu        sync.Mutex
	pending   map[int]Meta
	threshold float64
	sink      Appender
}

// NewTracker creates a tracker that appends finalized touches to sink.
// A threshold <= 0 selects DefaultThreshold.
func NewTracker(sink Appender, threshold float64) *Tracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Tracker{
		pending:   make(map[int]Meta),
		threshold: threshold,
		sink:      sink,
	}
}

// Threshold returns the resampling distance in pixels.
func (t *Tracker) Threshold() float64 {
	return t.threshold
}

// State returns the capture state of pointer.
func (t *Tracker) State(pointer int) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[pointer]; ok {
		return StateTouching
	}
	return StateIdle
}

// Pending returns the number of pointers with a touch in progress.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Begin starts a pending touch for pointer. A touch already pending for
// the same pointer is replaced and reported as dropped.
func (t *Tracker) Begin(pointer int, at Coordinates, ts time.Time) (dropped bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, dropped = t.pending[pointer]
	t.pending[pointer] = Meta{Coordinates: at, StartTime: ts}
	return dropped
}

// Move resamples the pending touch of pointer when at lies further than
// the threshold from its origin: the pending touch is finalized at ts
// and a new one begins at the new position. It returns false if no
// touch is pending.
func (t *Tracker) Move(pointer int, at Coordinates, ts time.Time) (resampled, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.pending[pointer]
	if !ok {
		return false, false
	}
	if m.Coordinates.Distance(at) <= t.threshold {
		return false, true
	}

	t.sink.Append(m.finalize(ts))
	t.pending[pointer] = Meta{Coordinates: at, StartTime: ts}
	return true, true
}

// End finalizes and appends the pending touch of pointer. It returns
// false if no touch is pending.
func (t *Tracker) End(pointer int, ts time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.pending[pointer]
	if !ok {
		return false
	}
	delete(t.pending, pointer)
	t.sink.Append(m.finalize(ts))
	return true
}

// Cancel discards the pending touch of pointer without recording it.
// It returns false if no touch is pending.
func (t *Tracker) Cancel(pointer int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.pending[pointer]; !ok {
		return false
	}
	delete(t.pending, pointer)
	return true
}

// Tap records a discrete gesture as a touch that begins and ends at the
// same position and time.
func (t *Tracker) Tap(at Coordinates, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink.Append(Meta{Coordinates: at, StartTime: ts}.finalize(ts))
}

// Reset drops every pending touch.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.pending)
}
