package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"touchmap/internal/persist"
	"touchmap/internal/render"
	"touchmap/internal/replay"
	"touchmap/internal/session"
	"touchmap/internal/store"
	"touchmap/internal/touchmap"
)

var start = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func generate(t *testing.T, profile string, seed int64, count int) ([]byte, Stats) {
	t.Helper()
	var buf bytes.Buffer
	g := NewGenerator(profiles[profile], seed, 390, 844, start)
	stats, err := g.Write(replay.NewEncoder(&buf), count)
	require.NoError(t, err)
	return buf.Bytes(), stats
}

func TestGeneratorIsDeterministic(t *testing.T) {
	a, _ := generate(t, "browser", 42, 50)
	b, _ := generate(t, "browser", 42, 50)
	c, _ := generate(t, "browser", 43, 50)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestGeneratedStreamIsOrderedAndInBounds(t *testing.T) {
	for name := range profiles {
		t.Run(name, func(t *testing.T) {
			data, stats := generate(t, name, 7, 120)
			assert.Positive(t, stats.Elapsed)

			dec := replay.NewDecoder(bytes.NewReader(data))
			var last time.Time
			n := 0
			for {
				ev, err := dec.Next()
				if err != nil {
					break
				}
				n++
				assert.False(t, ev.T.Before(last), "line %d goes back in time", dec.Line())
				last = ev.T.Time
				assert.GreaterOrEqual(t, ev.X, 0.0)
				assert.LessOrEqual(t, ev.X, 390.0)
				assert.GreaterOrEqual(t, ev.Y, 0.0)
				assert.LessOrEqual(t, ev.Y, 844.0)
			}
			assert.Equal(t, stats.Events, n)
		})
	}
}

func TestGeneratedStreamPlaysIntoSessions(t *testing.T) {
	ctx := context.Background()
	st := persist.New(store.NewMemory(), persist.Options{})
	tm := touchmap.New(st, render.NewHeatmapRenderer(render.HeatmapOptions{}), touchmap.Options{
		Geometry: session.StaticGeometry{Width: 390, Height: 844},
	})

	data, gen := generate(t, "browser", 1, 100)
	stats, err := replay.Play(ctx, bytes.NewReader(data), tm, replay.Options{})
	require.NoError(t, err)
	assert.Equal(t, gen.Events, stats.Events)
	assert.Positive(t, stats.Appended)

	// 40 gestures per session: backgrounded after 40, 80 and at the end.
	list, err := st.GetAllAsList(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3)
	for _, s := range list {
		assert.NotNil(t, s.EndTime, "session %s was not closed", s.ID)
	}
}
