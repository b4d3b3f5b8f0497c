package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointJSON(t *testing.T) {
	data, err := json.Marshal(Request{
		CanvasID: "1700000000000",
		Points:   []Point{{X: 1, Y: 2, Weight: 1}, {X: 3.5, Y: 4, Weight: 1}},
		Max:      40,
		Width:    390,
		Height:   844,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"canvasId": "1700000000000",
		"points": [[1,2,1],[3.5,4,1]],
		"max": 40,
		"width": 390,
		"height": 844
	}`, string(data))

	var p Point
	require.NoError(t, json.Unmarshal([]byte(`[5,6,0.5]`), &p))
	assert.Equal(t, Point{X: 5, Y: 6, Weight: 0.5}, p)

	assert.Error(t, json.Unmarshal([]byte(`[5,6]`), &p))
	assert.Error(t, json.Unmarshal([]byte(`{"x":1}`), &p))
}

func TestDataURI(t *testing.T) {
	img := Image{MIMEType: "image/png", Data: []byte("abc")}
	assert.Equal(t, "data:image/png;base64,YWJj", img.DataURI())
}

func TestFuncRenderer(t *testing.T) {
	ok := Func(func(_ context.Context, req Request) (Image, error) {
		return Image{MIMEType: "text/plain", Data: []byte(req.CanvasID)}, nil
	})
	img, received := <-ok.Render(context.Background(), Request{CanvasID: "42"})
	require.True(t, received)
	assert.Equal(t, "42", string(img.Data))

	failing := Func(func(context.Context, Request) (Image, error) {
		return Image{}, errors.New("no canvas")
	})
	_, received = <-failing.Render(context.Background(), Request{})
	assert.False(t, received, "a failed render closes the channel without a value")
}

func TestDefaultPalette(t *testing.T) {
	pal := buildPalette(DefaultGradient())

	assert.Equal(t, color.NRGBA{B: 255, A: 255}, pal[0], "below the first stop is blue")
	assert.Equal(t, color.NRGBA{B: 255, A: 255}, pal[102])
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, pal[255])

	// Halfway between yellow (0.8) and red (1.0).
	mid := pal[230]
	assert.Equal(t, uint8(255), mid.R)
	assert.InDelta(t, 128, int(mid.G), 10)
}

func TestDrawIntensity(t *testing.T) {
	h := NewHeatmapRenderer(HeatmapOptions{})
	req := Request{
		Width:  200,
		Height: 200,
		Max:    1,
		Points: []Point{{X: 50, Y: 50, Weight: 1}},
	}

	img, err := h.Draw(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())

	center := img.NRGBAAt(50, 50)
	assert.Equal(t, uint8(255), center.A)
	assert.Equal(t, uint8(255), center.R, "full weight maps to red")

	far := img.NRGBAAt(150, 150)
	assert.Equal(t, uint8(0), far.A, "pixels out of reach stay transparent")

	edge := img.NRGBAAt(50+35, 50)
	assert.Greater(t, edge.A, uint8(0))
	assert.Less(t, edge.A, center.A)
}

func TestDrawMinOpacity(t *testing.T) {
	h := NewHeatmapRenderer(HeatmapOptions{MinOpacity: 0.2})
	img, err := h.Draw(context.Background(), Request{
		Width: 100, Height: 100, Max: 1000,
		Points: []Point{{X: 50, Y: 50, Weight: 1}},
	})
	require.NoError(t, err)
	assert.InDelta(t, 51, int(img.NRGBAAt(50, 50).A), 1)
}

func TestDrawAccumulates(t *testing.T) {
	h := NewHeatmapRenderer(HeatmapOptions{})
	one, err := h.Draw(context.Background(), Request{
		Width: 100, Height: 100, Max: 40,
		Points: []Point{{X: 50, Y: 50, Weight: 1}},
	})
	require.NoError(t, err)

	many := make([]Point, 10)
	for i := range many {
		many[i] = Point{X: 50, Y: 50, Weight: 1}
	}
	ten, err := h.Draw(context.Background(), Request{Width: 100, Height: 100, Max: 40, Points: many})
	require.NoError(t, err)

	assert.Greater(t, ten.NRGBAAt(50, 50).A, one.NRGBAAt(50, 50).A)
}

func TestDrawInvalidCanvas(t *testing.T) {
	h := NewHeatmapRenderer(HeatmapOptions{})
	_, err := h.Draw(context.Background(), Request{Width: 0, Height: 10})
	assert.Error(t, err)
}

func TestDrawCanceled(t *testing.T) {
	h := NewHeatmapRenderer(HeatmapOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Draw(ctx, Request{Width: 10, Height: 10, Points: []Point{{X: 1, Y: 1, Weight: 1}}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRenderProducesPNG(t *testing.T) {
	h := NewHeatmapRenderer(HeatmapOptions{})
	ch := h.Render(context.Background(), Request{
		CanvasID: "1",
		Width:    64,
		Height:   32,
		Max:      40,
		Points:   []Point{{X: 10, Y: 10, Weight: 1}},
	})

	select {
	case img, ok := <-ch:
		require.True(t, ok)
		assert.Equal(t, "image/png", img.MIMEType)
		assert.True(t, strings.HasPrefix(img.DataURI(), "data:image/png;base64,"))

		decoded, err := png.Decode(bytes.NewReader(img.Data))
		require.NoError(t, err)
		assert.Equal(t, 64, decoded.Bounds().Dx())
		assert.Equal(t, 32, decoded.Bounds().Dy())
	case <-time.After(5 * time.Second):
		t.Fatal("render did not reply")
	}
}

func TestRenderFailureClosesChannel(t *testing.T) {
	h := NewHeatmapRenderer(HeatmapOptions{})
	_, ok := <-h.Render(context.Background(), Request{})
	assert.False(t, ok)
}
