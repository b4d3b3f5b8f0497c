// Package touch models touch sessions and converts raw pointer signals
// into discrete touch records.
//
// A Session is one recording window (foreground to background, or an
// explicit reset). It owns an ordered list of Meta records, one per
// press-to-release gesture. Records are appended when a gesture ends or
// is resampled after moving further than the tracker threshold, and are
// never mutated afterwards.
package touch

import (
	"fmt"
	"math"
	"time"
)

// Coordinates is a pixel-space position.
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance between c and o.
func (c Coordinates) Distance(o Coordinates) float64 {
	return math.Hypot(c.X-o.X, c.Y-o.Y)
}

// DeviceSize is the canvas size in pixels.
type DeviceSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Meta is a single touch.
type Meta struct {
	// Coordinates is where the touch began.
	Coordinates Coordinates `json:"coordinates"`
	StartTime   time.Time   `json:"startTime"`
	// EndTime is nil while the touch is in progress.
	EndTime *time.Time `json:"endTime,omitempty"`
	// Duration is EndTime - StartTime in milliseconds, nil until completed.
	Duration *int64 `json:"duration,omitempty"`
}

// Completed reports whether the touch has been finalized.
func (m Meta) Completed() bool {
	return m.EndTime != nil && m.Duration != nil
}

// finalize returns a completed copy of m ending at end. An end earlier
// than the start is clamped so the duration is never negative.
func (m Meta) finalize(end time.Time) Meta {
	if end.Before(m.StartTime) {
		end = m.StartTime
	}
	d := end.Sub(m.StartTime).Milliseconds()
	m.EndTime = &end
	m.Duration = &d
	return m
}

// Session is a bounded recording window of touches.
type Session struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"startTime"`
	// EndTime is nil if the session was never closed (e.g. the process
	// died before it went to the background).
	EndTime    *time.Time `json:"endTime,omitempty"`
	Touches    []Meta     `json:"touches"`
	DeviceSize DeviceSize `json:"deviceSize"`
}

// NewSession creates an empty session starting at start.
func NewSession(start time.Time, size DeviceSize) *Session {
	return &Session{
		ID:         SessionID(start),
		StartTime:  start,
		Touches:    make([]Meta, 0),
		DeviceSize: size,
	}
}

// SessionID derives a session id from its creation time.
func SessionID(t time.Time) string {
	return fmt.Sprintf("id@%d", t.UnixMilli())
}

// Clone returns a deep copy of s.
func (s *Session) Clone() Session {
	c := *s
	c.Touches = make([]Meta, len(s.Touches))
	copy(c.Touches, s.Touches)
	if s.EndTime != nil {
		end := *s.EndTime
		c.EndTime = &end
	}
	return c
}

// Close stamps the session end time.
func (s *Session) Close(at time.Time) {
	s.EndTime = &at
}

// Append adds a finalized touch to the session.
func (s *Session) Append(m Meta) {
	s.Touches = append(s.Touches, m)
}
