package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/RafhaelMaglunob/pistream-cloud/pkg/camera"
)

var pushesCounter metric.Int64Counter

func init() {
	var err error
	meter := otel.Meter("github.com/RafhaelMaglunob/pistream-cloud/cmd/relay")
	pushesCounter, err = meter.Int64Counter("collector.pushes",
		metric.WithDescription("Pushes received from the device"),
	)
	if err != nil {
		slog.Error("Failed to create push metrics", "error", err)
	}
}

// MaxPushSize bounds a pushed body, matching the device's frame buffer.
const MaxPushSize = camera.MaxBufferSize

// PushHandler accepts data pushed by the camera device over HTTP. Routes are
// expected behind middleware.PushSecret.
type PushHandler struct {
	Store *Store
}

// Class returns the handler for one push class.
func (h *PushHandler) Class(class string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := http.MaxBytesReader(c.Writer, c.Request.Body, MaxPushSize)
		data, err := io.ReadAll(body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				record(c.Request.Context(), class, "rejected")
				c.String(http.StatusRequestEntityTooLarge, "Too large")
				return
			}
			c.String(http.StatusBadRequest, "Bad request")
			return
		}
		if err := h.Store.Apply(class, data); err != nil {
			record(c.Request.Context(), class, "rejected")
			if errors.Is(err, ErrTooSmall) {
				c.String(http.StatusBadRequest, "Too small")
				return
			}
			slog.Debug("Rejected push", "class", class, "error", err)
			c.String(http.StatusBadRequest, "Bad request")
			return
		}
		record(c.Request.Context(), class, "ok")
		c.String(http.StatusOK, "OK")
	}
}
