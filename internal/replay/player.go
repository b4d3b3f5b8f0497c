package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"touchmap/internal/session"
	"touchmap/internal/touch"
	"touchmap/internal/touchmap"
)

// Options configures Play.
type Options struct {
	// RegisterRegions registers unknown regions on their first press
	// instead of failing.
	RegisterRegions bool
	Logger          *slog.Logger
	// Now stamps events without a timestamp.
	Now func() time.Time
}

// Stats counts played events by kind.
type Stats struct {
	Events int
	ByKind map[string]int
	// Ignored counts pointer events that arrived with no touch pending.
	Ignored int
	// Appended counts touches finalized by the stream.
	Appended int
}

// Kinds returns the event kinds seen, sorted.
func (s Stats) Kinds() []string {
	kinds := make([]string, 0, len(s.ByKind))
	for k := range s.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Play decodes every event from r and applies it to tm. A malformed or
// rejected event stops playback with a *LineError.
func Play(ctx context.Context, r io.Reader, tm *touchmap.Touchmap, opts Options) (Stats, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	stats := Stats{ByKind: make(map[string]int)}
	dec := NewDecoder(r)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, err
		}

		out, err := apply(ctx, tm, ev, opts)
		if err != nil {
			return stats, &LineError{Line: dec.Line(), Err: err}
		}
		stats.Events++
		stats.ByKind[ev.Kind]++
		stats.Appended += out.Appended
		if out.Ignored {
			stats.Ignored++
		}
	}

	opts.Logger.Debug("replay finished",
		"events", stats.Events,
		"appended", stats.Appended,
		"ignored", stats.Ignored,
	)
	return stats, nil
}

func apply(ctx context.Context, tm *touchmap.Touchmap, ev Event, opts Options) (touch.Outcome, error) {
	at := ev.T.Time
	if at.IsZero() {
		at = opts.Now()
	}
	pt := touch.Coordinates{X: ev.X, Y: ev.Y}

	switch ev.Kind {
	case KindLayout:
		tm.Layout()
	case KindState:
		state, err := session.ParseAppState(ev.State)
		if err != nil {
			return touch.Outcome{}, err
		}
		if err := tm.AppStateChanged(ctx, state); err != nil {
			return touch.Outcome{}, err
		}
	case KindBegin:
		return tm.TouchStart(ev.Pointer, pt, at), nil
	case KindMove:
		return tm.TouchMove(ev.Pointer, pt, at), nil
	case KindEnd:
		return tm.TouchEnd(ev.Pointer, at), nil
	case KindCancel:
		return tm.TouchCancel(ev.Pointer), nil
	case KindTap, KindAccessibilityTap:
		return tm.AccessibilityTap(pt, at), nil
	case KindMagicTap:
		return tm.MagicTap(pt, at), nil
	case KindPress, KindLongPress:
		if opts.RegisterRegions {
			err := tm.Register(touchmap.Region{ID: ev.Region})
			if err != nil && !errors.Is(err, touchmap.ErrDuplicateRegion) {
				return touch.Outcome{}, err
			}
		}
		press := tm.Press
		if ev.Kind == KindLongPress {
			press = tm.LongPress
		}
		if err := press(ev.Region, pt, at); err != nil {
			return touch.Outcome{}, err
		}
		return touch.Outcome{Appended: 1}, nil
	case KindClear:
		if err := tm.Clear(ctx); err != nil {
			return touch.Outcome{}, err
		}
	default:
		return touch.Outcome{}, fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	return touch.Outcome{}, nil
}
