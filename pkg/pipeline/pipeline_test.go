package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/RafhaelMaglunob/pistream-cloud/pkg/camera"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/cell"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/detector"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/vision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink[T any] struct {
	mu    sync.Mutex
	items []T
}

func (s *sink[T]) Offer(v T) bool {
	s.mu.Lock()
	s.items = append(s.items, v)
	s.mu.Unlock()
	return true
}

func jpegFrame(t *testing.T, w, h int, c color.RGBA) *camera.Frame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return &camera.Frame{Data: buf.Bytes(), Seq: 1, CapturedAt: time.Now()}
}

func TestSettings(t *testing.T) {
	_, err := NewSettings(false, "spiral", false)
	require.ErrorIs(t, err, ErrInvalidMode)

	s, err := NewSettings(false, vision.ModeCenter, false)
	require.NoError(t, err)

	require.NoError(t, s.SetColor(true, vision.ModeGrid))
	assert.Equal(t, SettingsSnapshot{ColorEnabled: true, ColorMode: vision.ModeGrid}, s.Snapshot())

	require.NoError(t, s.SetColor(false, ""))
	assert.Equal(t, vision.ModeGrid, s.Snapshot().ColorMode)

	assert.ErrorIs(t, s.SetColor(true, "diagonal"), ErrInvalidMode)
	assert.False(t, s.Snapshot().ColorEnabled)

	s.SetML(true)
	assert.True(t, s.Snapshot().MLEnabled)
}

type overlayFixture struct {
	raw, overlay *cell.Cell[*camera.Frame]
	colors       *cell.Cell[[]vision.ColorSample]
	dets         *cell.Cell[[]vision.Detection]
	settings     *Settings
	out          *sink[*camera.Frame]
	worker       *OverlayWorker
}

func newOverlayFixture(t *testing.T) *overlayFixture {
	settings, err := NewSettings(false, vision.ModeCenter, false)
	require.NoError(t, err)
	f := &overlayFixture{
		raw:      cell.New[*camera.Frame](),
		overlay:  cell.New[*camera.Frame](),
		colors:   cell.New[[]vision.ColorSample](),
		dets:     cell.New[[]vision.Detection](),
		settings: settings,
		out:      &sink[*camera.Frame]{},
	}
	f.worker = NewOverlayWorker(OverlayOptions{
		Raw: f.raw, Overlay: f.overlay, Colors: f.colors, Detections: f.dets,
		Settings: settings, Out: f.out,
	})
	return f
}

func TestOverlayWorkerPublishesNewFramesOnly(t *testing.T) {
	f := newOverlayFixture(t)

	assert.False(t, f.worker.Step(), "no raw frame yet")

	raw := jpegFrame(t, 64, 48, color.RGBA{30, 30, 200, 255})
	f.raw.Set(raw)
	require.True(t, f.worker.Step())

	got, ok := f.overlay.Get()
	require.True(t, ok)
	assert.NotSame(t, raw, got, "overlay must be a new frame")
	assert.Equal(t, raw.Seq, got.Seq)
	_, err := jpeg.Decode(bytes.NewReader(got.Data))
	require.NoError(t, err)

	assert.False(t, f.worker.Step(), "same raw frame is skipped")
	assert.Len(t, f.out.items, 1)
	assert.Same(t, got, f.out.items[0])
}

func TestOverlayWorkerColorSampling(t *testing.T) {
	f := newOverlayFixture(t)
	require.NoError(t, f.settings.SetColor(true, vision.ModeCenter))

	red := jpegFrame(t, 64, 48, color.RGBA{220, 20, 20, 255})
	f.raw.Set(red)
	require.True(t, f.worker.Step())
	colors := f.colors.Load()
	require.Len(t, colors, 1)
	assert.Equal(t, "Red", colors[0].Name)

	// Every other frame is sampled.
	f.raw.Set(jpegFrame(t, 64, 48, color.RGBA{20, 20, 220, 255}))
	require.True(t, f.worker.Step())
	assert.Equal(t, "Red", f.colors.Load()[0].Name)

	f.raw.Set(jpegFrame(t, 64, 48, color.RGBA{20, 20, 220, 255}))
	require.True(t, f.worker.Step())
	assert.Equal(t, "Blue", f.colors.Load()[0].Name)

	require.NoError(t, f.settings.SetColor(false, ""))
	f.raw.Set(jpegFrame(t, 64, 48, color.RGBA{20, 20, 220, 255}))
	require.True(t, f.worker.Step())
	_, ok := f.colors.Get()
	assert.False(t, ok, "disabled sampling clears the color cell")
}

func TestOverlayWorkerPassThroughOnDecodeError(t *testing.T) {
	f := newOverlayFixture(t)
	broken := &camera.Frame{Data: []byte{0xFF, 0xD8, 0x00, 0xFF, 0xD9}}
	f.raw.Set(broken)

	require.True(t, f.worker.Step())
	got, _ := f.overlay.Get()
	assert.Same(t, broken, got)
}

type detectionFixture struct {
	raw      *cell.Cell[*camera.Frame]
	results  *cell.Cell[[]vision.Detection]
	settings *Settings
	out      *sink[[]vision.Detection]
	worker   *DetectionWorker

	mu    sync.Mutex
	reply []vision.Detection
	err   error
}

func newDetectionFixture(t *testing.T) *detectionFixture {
	settings, err := NewSettings(false, vision.ModeCenter, true)
	require.NoError(t, err)
	f := &detectionFixture{
		raw:      cell.New[*camera.Frame](),
		results:  cell.New[[]vision.Detection](),
		settings: settings,
		out:      &sink[[]vision.Detection]{},
	}
	det := detector.Func(func(ctx context.Context, jpeg []byte) ([]vision.Detection, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.reply, f.err
	})
	f.worker = NewDetectionWorker(DetectionOptions{
		Raw: f.raw, Results: f.results, Settings: settings, Detector: det, Out: f.out,
	})
	return f
}

func (f *detectionFixture) respond(dets []vision.Detection, err error) {
	f.mu.Lock()
	f.reply, f.err = dets, err
	f.mu.Unlock()
}

func TestDetectionWorkerFiltersAndSignalsIncidents(t *testing.T) {
	f := newDetectionFixture(t)
	incidents := make(chan []vision.Detection, 4)
	f.worker.OnIncident(func(ctx context.Context, dets []vision.Detection) { incidents <- dets })
	ctx := context.Background()

	crash := []vision.Detection{
		{Box: [4]int{500, 10, 600, 50}, Label: "motor_crash", Confidence: 0.95},
		{Box: [4]int{10, 10, 50, 50}, Label: "motor_crash", Confidence: 0.5},
		{Box: [4]int{10, 10, 50, 50}, Label: "person", Confidence: 0.99},
	}
	f.respond(crash, nil)
	f.raw.Set(jpegFrame(t, 640, 480, color.RGBA{}))
	require.True(t, f.worker.Step(ctx))

	got := f.results.Load()
	require.Len(t, got, 1)
	assert.Equal(t, vision.ZoneRight, got[0].Zone)

	select {
	case dets := <-incidents:
		assert.Len(t, dets, 1)
	case <-time.After(time.Second):
		t.Fatal("incident hook not called")
	}

	// Still active: no new incident.
	f.raw.Set(jpegFrame(t, 640, 480, color.RGBA{}))
	require.True(t, f.worker.Step(ctx))

	// Clears, then reappears.
	f.respond(nil, nil)
	f.raw.Set(jpegFrame(t, 640, 480, color.RGBA{}))
	require.True(t, f.worker.Step(ctx))
	assert.Empty(t, f.results.Load())

	f.respond(crash, nil)
	f.raw.Set(jpegFrame(t, 640, 480, color.RGBA{}))
	require.True(t, f.worker.Step(ctx))

	select {
	case <-incidents:
	case <-time.After(time.Second):
		t.Fatal("second incident not signalled")
	}
	assert.Len(t, incidents, 0)
	assert.Len(t, f.out.items, 4)
}

func TestDetectionWorkerSkips(t *testing.T) {
	f := newDetectionFixture(t)
	ctx := context.Background()

	assert.False(t, f.worker.Step(ctx), "no frame")

	frame := jpegFrame(t, 64, 48, color.RGBA{})
	f.raw.Set(frame)
	f.settings.SetML(false)
	assert.False(t, f.worker.Step(ctx), "disabled")

	f.settings.SetML(true)
	assert.True(t, f.worker.Step(ctx))
	assert.False(t, f.worker.Step(ctx), "unchanged frame")
}

func TestDetectionWorkerKeepsResultsOnError(t *testing.T) {
	f := newDetectionFixture(t)
	ctx := context.Background()
	prev := []vision.Detection{{Label: "motor_crash", Confidence: 0.99, Zone: vision.ZoneLeft}}
	f.results.Set(prev)

	f.respond(nil, errors.New("inference backend down"))
	f.raw.Set(jpegFrame(t, 64, 48, color.RGBA{}))
	assert.False(t, f.worker.Step(ctx))
	assert.Equal(t, prev, f.results.Load())
}
