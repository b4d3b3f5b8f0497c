// touchgen generates synthetic touch event streams for exercising the
// tracker, the session store and the heatmap renderer without a device.
//
// Usage:
//
//	go run ./tools/touchgen -output events.ndjson -count 200
//	go run ./tools/touchgen -output events.ndjson -profile scroller
//	go run ./tools/touchgen -profile gamer | touchmap record -
package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"sort"
	"time"

	"touchmap/internal/replay"
)

// Hotspot is a screen area a profile favors, in fractions of the screen.
type Hotspot struct {
	X, Y   float64
	Spread float64
	Weight float64
}

// Profile defines parameters for simulating a kind of user.
type Profile struct {
	Name                     string
	Description              string
	MedianIntervalMs         float64 // Median time between gestures
	IntervalStdDevMs         float64
	DragProbability          float64 // Probability a gesture is a drag rather than a tap
	DragLengthPx             float64 // Mean drag length
	CancelProbability        float64 // Probability a gesture is cancelled by the system
	AccessibilityProbability float64 // Probability of an accessibility tap instead of a touch
	MultiTouchProbability    float64 // Probability a second pointer overlaps the gesture
	GesturesPerSession       int     // Gestures before the app is backgrounded
	Hotspots                 []Hotspot
}

var profiles = map[string]Profile{
	"browser": {
		Name:                  "Casual Browser",
		Description:           "Taps on content with occasional scrolls",
		MedianIntervalMs:      1800,
		IntervalStdDevMs:      1200,
		DragProbability:       0.3,
		DragLengthPx:          250,
		CancelProbability:     0.02,
		MultiTouchProbability: 0.01,
		GesturesPerSession:    40,
		Hotspots: []Hotspot{
			{X: 0.5, Y: 0.45, Spread: 0.2, Weight: 3},
			{X: 0.5, Y: 0.95, Spread: 0.05, Weight: 1}, // tab bar
			{X: 0.1, Y: 0.07, Spread: 0.03, Weight: 0.5},
		},
	},
	"scroller": {
		Name:                  "Feed Scroller",
		Description:           "Long vertical drags through a feed",
		MedianIntervalMs:      700,
		IntervalStdDevMs:      400,
		DragProbability:       0.85,
		DragLengthPx:          450,
		CancelProbability:     0.05,
		MultiTouchProbability: 0.01,
		GesturesPerSession:    80,
		Hotspots: []Hotspot{
			{X: 0.6, Y: 0.6, Spread: 0.12, Weight: 1},
		},
	},
	"gamer": {
		Name:                  "Two-Thumb Gamer",
		Description:           "Rapid overlapping thumbs in the lower corners",
		MedianIntervalMs:      250,
		IntervalStdDevMs:      120,
		DragProbability:       0.4,
		DragLengthPx:          60,
		CancelProbability:     0.01,
		MultiTouchProbability: 0.5,
		GesturesPerSession:    150,
		Hotspots: []Hotspot{
			{X: 0.2, Y: 0.85, Spread: 0.06, Weight: 1},
			{X: 0.8, Y: 0.85, Spread: 0.06, Weight: 1},
		},
	},
	"voiceover": {
		Name:                     "Screen Reader User",
		Description:              "Mostly accessibility taps with few direct touches",
		MedianIntervalMs:         3000,
		IntervalStdDevMs:         2000,
		DragProbability:          0.05,
		DragLengthPx:             150,
		AccessibilityProbability: 0.8,
		GesturesPerSession:       25,
		Hotspots: []Hotspot{
			{X: 0.5, Y: 0.5, Spread: 0.3, Weight: 1},
		},
	},
}

// Generator produces events for one profile.
type Generator struct {
	rng     *rand.Rand
	profile Profile
	width   float64
	height  float64
	now     time.Time
}

func main() {
	var (
		outputPath   = flag.String("output", "-", "Output file path, - for stdout")
		count        = flag.Int("count", 100, "Number of gestures to generate")
		profileName  = flag.String("profile", "browser", "Profile to use")
		width        = flag.Float64("width", 390, "Screen width in pixels")
		height       = flag.Float64("height", 844, "Screen height in pixels")
		startMs      = flag.Int64("start", 0, "Start timestamp (epoch ms); 0 = now")
		seed         = flag.Int64("seed", 0, "Random seed; 0 = use current time")
		listProfiles = flag.Bool("list", false, "List available profiles")
	)
	flag.Parse()

	if *listProfiles {
		names := make([]string, 0, len(profiles))
		for name := range profiles {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Println("Available profiles:")
		for _, name := range names {
			fmt.Printf("  %-12s %s\n", name, profiles[name].Description)
		}
		os.Exit(0)
	}

	profile, ok := profiles[*profileName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown profile: %s\n", *profileName)
		fmt.Fprintf(os.Stderr, "Use -list to see available profiles\n")
		os.Exit(1)
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	start := time.Now()
	if *startMs != 0 {
		start = time.UnixMilli(*startMs)
	}

	var out io.Writer = os.Stdout
	if *outputPath != "-" {
		f, err := os.Create(*outputPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating output: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	g := NewGenerator(profile, *seed, *width, *height, start)
	stats, err := g.Write(replay.NewEncoder(out), *count)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error writing events: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "Generated %d gestures (%d events) with profile %s, seed %d\n",
		*count, stats.Events, profile.Name, *seed)
	printStats(os.Stderr, stats)
}

// NewGenerator creates a deterministic generator for seed.
func NewGenerator(profile Profile, seed int64, width, height float64, start time.Time) *Generator {
	return &Generator{
		rng:     rand.New(rand.NewSource(seed)),
		profile: profile,
		width:   width,
		height:  height,
		now:     start,
	}
}

// Stats summarizes a generated stream.
type Stats struct {
	Events  int
	ByKind  map[string]int
	Elapsed time.Duration
}

// Write emits count gestures framed by layout and state events.
func (g *Generator) Write(enc *replay.Encoder, count int) (Stats, error) {
	stats := Stats{ByKind: make(map[string]int)}
	start := g.now
	emit := func(ev replay.Event) error {
		stats.Events++
		stats.ByKind[ev.Kind]++
		return enc.Encode(ev)
	}

	if err := emit(replay.Event{Kind: replay.KindLayout, T: replay.Timestamp{Time: g.now}}); err != nil {
		return stats, err
	}

	for i := 0; i < count; i++ {
		g.advance(logNormalSample(g.rng, g.profile.MedianIntervalMs, g.profile.IntervalStdDevMs))

		for _, ev := range g.gesture() {
			if err := emit(ev); err != nil {
				return stats, err
			}
			if ev.T.After(g.now) {
				g.now = ev.T.Time
			}
		}

		if n := g.profile.GesturesPerSession; n > 0 && (i+1)%n == 0 && i+1 < count {
			for _, state := range []string{"background", "active"} {
				g.advance(1000 + g.rng.Float64()*60000)
				if err := emit(replay.Event{Kind: replay.KindState, State: state, T: replay.Timestamp{Time: g.now}}); err != nil {
					return stats, err
				}
			}
			// Coming back to the foreground lays the view out again.
			if err := emit(replay.Event{Kind: replay.KindLayout, T: replay.Timestamp{Time: g.now}}); err != nil {
				return stats, err
			}
		}
	}

	g.advance(500)
	if err := emit(replay.Event{Kind: replay.KindState, State: "background", T: replay.Timestamp{Time: g.now}}); err != nil {
		return stats, err
	}
	stats.Elapsed = g.now.Sub(start)
	return stats, nil
}

func (g *Generator) advance(ms float64) {
	g.now = g.now.Add(time.Duration(ms * float64(time.Millisecond)))
}

func (g *Generator) stamp(offsetMs float64) replay.Timestamp {
	return replay.Timestamp{Time: g.now.Add(time.Duration(offsetMs * float64(time.Millisecond)))}
}

// gesture returns the events of one gesture, ordered by time.
func (g *Generator) gesture() []replay.Event {
	x, y := g.point()

	if g.rng.Float64() < g.profile.AccessibilityProbability {
		return []replay.Event{{Kind: replay.KindAccessibilityTap, X: x, Y: y, T: g.stamp(0)}}
	}

	events := g.stroke(0, x, y)
	if g.rng.Float64() < g.profile.MultiTouchProbability {
		x2, y2 := g.point()
		second := g.stroke(1, x2, y2)
		// Shift the second pointer so it lands while the first is down.
		for i := range second {
			second[i].T = replay.Timestamp{Time: second[i].T.Add(20 * time.Millisecond)}
		}
		events = append(events, second...)
		sort.SliceStable(events, func(i, j int) bool { return events[i].T.Before(events[j].T.Time) })
	}
	return events
}

// stroke is a tap or drag by pointer starting at x, y.
func (g *Generator) stroke(pointer int, x, y float64) []replay.Event {
	events := []replay.Event{{Kind: replay.KindBegin, Pointer: pointer, X: x, Y: y, T: g.stamp(0)}}
	elapsed := 60 + g.rng.Float64()*80

	if g.rng.Float64() < g.profile.DragProbability {
		length := g.profile.DragLengthPx * (0.5 + g.rng.Float64())
		angle := math.Pi/2 + (g.rng.Float64()-0.5)*0.6 // mostly vertical
		if g.rng.Intn(2) == 0 {
			angle += math.Pi
		}
		steps := 4 + g.rng.Intn(6)
		for s := 1; s <= steps; s++ {
			f := float64(s) / float64(steps)
			mx := g.clamp(x+math.Cos(angle)*length*f, g.width)
			my := g.clamp(y+math.Sin(angle)*length*f, g.height)
			elapsed += 16
			events = append(events, replay.Event{Kind: replay.KindMove, Pointer: pointer, X: mx, Y: my, T: g.stamp(elapsed)})
		}
	}

	if g.rng.Float64() < g.profile.CancelProbability {
		return append(events, replay.Event{Kind: replay.KindCancel, Pointer: pointer, T: g.stamp(elapsed)})
	}
	return append(events, replay.Event{Kind: replay.KindEnd, Pointer: pointer, T: g.stamp(elapsed)})
}

// point samples a position around a weighted hotspot.
func (g *Generator) point() (float64, float64) {
	spots := g.profile.Hotspots
	h := Hotspot{X: 0.5, Y: 0.5, Spread: 0.3, Weight: 1}
	if len(spots) > 0 {
		total := 0.0
		for _, s := range spots {
			total += s.Weight
		}
		r := g.rng.Float64() * total
		h = spots[len(spots)-1]
		for _, s := range spots {
			if r < s.Weight {
				h = s
				break
			}
			r -= s.Weight
		}
	}
	x := g.clamp((h.X+g.rng.NormFloat64()*h.Spread)*g.width, g.width)
	y := g.clamp((h.Y+g.rng.NormFloat64()*h.Spread)*g.height, g.height)
	return math.Round(x), math.Round(y)
}

func (g *Generator) clamp(v, limit float64) float64 {
	return math.Max(0, math.Min(limit, v))
}

// logNormalSample generates a sample from a log-normal distribution.
func logNormalSample(rng *rand.Rand, median, stdDev float64) float64 {
	mu := math.Log(median)
	sigma := math.Log(1 + stdDev/median)
	if sigma < 0.1 {
		sigma = 0.1
	}
	return math.Exp(mu + sigma*rng.NormFloat64())
}

func printStats(w io.Writer, stats Stats) {
	kinds := make([]string, 0, len(stats.ByKind))
	for k := range stats.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	fmt.Fprintln(w, "\nStatistics:")
	fmt.Fprintf(w, "  Total events:  %d\n", stats.Events)
	fmt.Fprintf(w, "  Time span:     %.1f seconds\n", stats.Elapsed.Seconds())
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-18s %d\n", k+":", stats.ByKind[k])
	}
}
