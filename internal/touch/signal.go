package touch

import (
	"fmt"
	"time"
)

// Kind identifies a pointer signal.
type Kind int

const (
	KindBegin Kind = iota
	KindMove
	KindEnd
	KindCancel
	KindTap
)

var kindNames = map[Kind]string{
	KindBegin:  "begin",
	KindMove:   "move",
	KindEnd:    "end",
	KindCancel: "cancel",
	KindTap:    "tap",
}

// String returns the string representation of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind parses a signal kind name.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown signal kind: %q", s)
}

// Signal is one raw pointer event as delivered by the host.
type Signal struct {
	Kind    Kind
	Pointer int
	Point   Coordinates
	At      time.Time
}

// Outcome describes what a signal did to the tracker.
type Outcome struct {
	// Appended is the number of touches finalized by the signal.
	Appended int
	// Dropped is true when a begin replaced a pending touch or a cancel
	// discarded one.
	Dropped bool
	// Ignored is true when the signal arrived with no pending touch.
	Ignored bool
}

// Handle applies sig to the tracker.
func (t *Tracker) Handle(sig Signal) Outcome {
	switch sig.Kind {
	case KindBegin:
		return Outcome{Dropped: t.Begin(sig.Pointer, sig.Point, sig.At)}
	case KindMove:
		resampled, ok := t.Move(sig.Pointer, sig.Point, sig.At)
		if !ok {
			return Outcome{Ignored: true}
		}
		if resampled {
			return Outcome{Appended: 1}
		}
		return Outcome{}
	case KindEnd:
		if !t.End(sig.Pointer, sig.At) {
			return Outcome{Ignored: true}
		}
		return Outcome{Appended: 1}
	case KindCancel:
		if !t.Cancel(sig.Pointer) {
			return Outcome{Ignored: true}
		}
		return Outcome{Dropped: true}
	case KindTap:
		t.Tap(sig.Point, sig.At)
		return Outcome{Appended: 1}
	default:
		return Outcome{Ignored: true}
	}
}
