package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/RafhaelMaglunob/pistream-cloud/pkg/camera"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/cell"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/vision"
)

// Offerer is a non-blocking sink such as a relay queue.
type Offerer[T any] interface {
	Offer(T) bool
}

// OverlayInterval paces the overlay worker at roughly the capture rate.
const OverlayInterval = 66 * time.Millisecond

// OverlayWorker renders color markers and detection boxes onto the latest raw
// frame and publishes the result.
type OverlayWorker struct {
	Interval time.Duration

	raw        *cell.Cell[*camera.Frame]
	overlay    *cell.Cell[*camera.Frame]
	colors     *cell.Cell[[]vision.ColorSample]
	detections *cell.Cell[[]vision.Detection]
	settings   *Settings
	renderer   *vision.Renderer
	out        Offerer[*camera.Frame]

	last      *camera.Frame
	processed int
}

// OverlayOptions are the cells and sinks an OverlayWorker reads and writes.
type OverlayOptions struct {
	Raw        *cell.Cell[*camera.Frame]
	Overlay    *cell.Cell[*camera.Frame]
	Colors     *cell.Cell[[]vision.ColorSample]
	Detections *cell.Cell[[]vision.Detection]
	Settings   *Settings
	Renderer   *vision.Renderer
	Out        Offerer[*camera.Frame] // optional
}

func NewOverlayWorker(opts OverlayOptions) *OverlayWorker {
	r := opts.Renderer
	if r == nil {
		r = vision.NewRenderer()
	}
	return &OverlayWorker{
		Interval:   OverlayInterval,
		raw:        opts.Raw,
		overlay:    opts.Overlay,
		colors:     opts.Colors,
		detections: opts.Detections,
		settings:   opts.Settings,
		renderer:   r,
		out:        opts.Out,
	}
}

func (w *OverlayWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Step()
		}
	}
}

// Step processes the current raw frame if it is new. It reports whether a
// frame was published.
func (w *OverlayWorker) Step() bool {
	frame, ok := w.raw.Get()
	if !ok || frame == nil || frame == w.last {
		return false
	}
	w.last = frame

	cfg := w.settings.Snapshot()
	img, err := vision.Decode(frame.Data)
	if err != nil {
		slog.Warn("Overlay error, passing frame through", "error", err)
		w.publish(frame)
		return true
	}

	if cfg.ColorEnabled {
		if w.processed%2 == 0 {
			w.colors.Set(vision.SampleColors(img, cfg.ColorMode))
		}
	} else {
		w.colors.Clear()
	}
	w.processed++

	data, err := w.renderer.Render(img, cfg.ColorMode, w.colors.Load(), w.detections.Load())
	if err != nil {
		slog.Warn("Overlay error, passing frame through", "error", err)
		w.publish(frame)
		return true
	}

	w.publish(&camera.Frame{Data: data, Seq: frame.Seq, CapturedAt: frame.CapturedAt})
	return true
}

func (w *OverlayWorker) publish(f *camera.Frame) {
	w.overlay.Set(f)
	if w.out != nil {
		w.out.Offer(f)
	}
}
