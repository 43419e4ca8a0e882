// Package stream serves the latest frames to local viewers as
// multipart/x-mixed-replace MJPEG.
package stream

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/RafhaelMaglunob/pistream-cloud/pkg/camera"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/cell"
)

// ContentType is the response type of Handler.
const ContentType = "multipart/x-mixed-replace; boundary=frame"

var viewersGauge metric.Int64UpDownCounter

func init() {
	var err error
	viewersGauge, err = otel.Meter("github.com/RafhaelMaglunob/pistream-cloud/pkg/stream").Int64UpDownCounter(
		"stream.viewers",
		metric.WithDescription("Connected MJPEG viewers"),
	)
	if err != nil {
		slog.Error("Failed to create stream metrics", "error", err)
	}
}

// Generator produces per-viewer frame sequences from the overlay cell, falling
// back to the raw cell.
type Generator struct {
	Overlay *cell.Cell[*camera.Frame]
	Raw     *cell.Cell[*camera.Frame]
	Ready   *cell.Latch

	Poll           time.Duration
	FirstFrameWait time.Duration
	MaxStalls      int
	LogEvery       int
}

func NewGenerator(overlay, raw *cell.Cell[*camera.Frame], ready *cell.Latch) *Generator {
	return &Generator{
		Overlay:        overlay,
		Raw:            raw,
		Ready:          ready,
		Poll:           33 * time.Millisecond,
		FirstFrameWait: 15 * time.Second,
		MaxStalls:      450,
		LogEvery:       30,
	}
}

// Current returns the overlay frame, or the raw frame when no overlay exists.
func (g *Generator) Current() (*camera.Frame, bool) {
	if f, ok := g.Overlay.Get(); ok && f != nil {
		return f, true
	}
	if f, ok := g.Raw.Get(); ok && f != nil {
		return f, true
	}
	return nil, false
}

// Part wraps a JPEG in one multipart section.
func Part(jpeg []byte) []byte {
	const head = "--frame\r\nContent-Type: image/jpeg\r\n\r\n"
	b := make([]byte, 0, len(head)+len(jpeg)+2)
	b = append(b, head...)
	b = append(b, jpeg...)
	return append(b, "\r\n"...)
}

// Frames yields one multipart part per new frame. The sequence ends when ctx
// is done, the consumer stops, or no new frame arrives for MaxStalls polls.
func (g *Generator) Frames(ctx context.Context) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		viewer := uuid.NewString()
		g.waitReady(ctx)

		var last *camera.Frame
		stalls := 0
		for ctx.Err() == nil {
			f, ok := g.Current()
			if !ok || f == last {
				stalls++
				if stalls > g.MaxStalls {
					slog.Info("Dropping stalled viewer", "viewer", viewer, "stalls", stalls)
					return
				}
				if g.LogEvery > 0 && stalls%g.LogEvery == 0 {
					slog.Debug("Viewer stalled waiting for new frame", "viewer", viewer,
						"waited", time.Duration(stalls)*g.Poll)
				}
				if !sleep(ctx, g.Poll) {
					return
				}
				continue
			}

			stalls = 0
			last = f
			if !yield(Part(f.Data)) {
				return
			}
		}
	}
}

func (g *Generator) waitReady(ctx context.Context) {
	if g.Ready == nil {
		return
	}
	t := time.NewTimer(g.FirstFrameWait)
	defer t.Stop()
	select {
	case <-g.Ready.Done():
	case <-t.C:
	case <-ctx.Done():
	}
}

// Handler streams frames until the client goes away.
func (g *Generator) Handler(c *gin.Context) {
	c.Header("Content-Type", ContentType)
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")

	w := c.Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		c.String(http.StatusInternalServerError, "Streaming not supported")
		return
	}
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	viewersGauge.Add(ctx, 1)
	defer viewersGauge.Add(context.WithoutCancel(ctx), -1)

	for part := range g.Frames(ctx) {
		if _, err := w.Write(part); err != nil {
			return
		}
		flusher.Flush()
	}
}

// Snapshot serves the current frame as a single JPEG.
func (g *Generator) Snapshot(c *gin.Context) {
	f, ok := g.Current()
	if !ok {
		c.String(http.StatusServiceUnavailable, "No frame available")
		return
	}
	c.Data(http.StatusOK, "image/jpeg", f.Data)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
