package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/RafhaelMaglunob/pistream-cloud/pkg/camera"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/cell"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/eventlog"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/gps"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/pipeline"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/stream"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/vision"
)

// CameraState reports the capture supervisor's progress.
type CameraState interface {
	State() camera.State
	FramesCaptured() uint64
}

// API serves the local control and data endpoints.
type API struct {
	Stream     *stream.Generator
	Settings   *pipeline.Settings
	Colors     *cell.Cell[[]vision.ColorSample]
	Detections *cell.Cell[[]vision.Detection]
	Status     *cell.Cell[string]
	GPS        *cell.Cell[gps.Fix]
	Events     *eventlog.Log // optional
	Camera     CameraState
}

// Register mounts every route on r.
func (a *API) Register(r gin.IRouter) {
	r.GET("/stream", a.Stream.Handler)
	r.GET("/snapshot.jpg", a.Stream.Snapshot)
	r.GET("/detection", a.GetDetection)
	r.POST("/detection", a.SetDetection)
	r.GET("/ml", a.GetML)
	r.POST("/ml", a.SetML)
	r.GET("/colors", a.GetColors)
	r.GET("/ml_results", a.GetMLResults)
	r.GET("/status", a.GetStatus)
	r.GET("/gps", a.GetGPS)
	r.GET("/events", a.GetEvents)
	r.GET("/health", a.Health)
}

type detectionRequest struct {
	Enabled bool   `json:"enabled"`
	Mode    string `json:"mode"`
}

func (a *API) GetDetection(c *gin.Context) {
	s := a.Settings.Snapshot()
	c.JSON(http.StatusOK, gin.H{"enabled": s.ColorEnabled, "mode": s.ColorMode})
}

func (a *API) SetDetection(c *gin.Context) {
	var req detectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Mode == "" {
		req.Mode = string(vision.ModeCenter)
	}
	if err := a.Settings.SetColor(req.Enabled, vision.ColorMode(req.Mode)); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrInvalidMode) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	s := a.Settings.Snapshot()
	slog.Info("Color detection updated", "enabled", s.ColorEnabled, "mode", s.ColorMode)
	c.JSON(http.StatusOK, gin.H{"success": true, "enabled": s.ColorEnabled, "mode": s.ColorMode})
}

type mlRequest struct {
	Enabled bool `json:"enabled"`
}

func (a *API) GetML(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"enabled": a.Settings.Snapshot().MLEnabled})
}

func (a *API) SetML(c *gin.Context) {
	var req mlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a.Settings.SetML(req.Enabled)
	slog.Info("ML detection updated", "enabled", req.Enabled)
	c.JSON(http.StatusOK, gin.H{"success": true, "enabled": req.Enabled})
}

func (a *API) GetColors(c *gin.Context) {
	colors := a.Colors.Load()
	if colors == nil {
		colors = []vision.ColorSample{}
	}
	c.JSON(http.StatusOK, gin.H{"colors": colors})
}

func (a *API) GetMLResults(c *gin.Context) {
	dets := a.Detections.Load()
	if dets == nil {
		dets = []vision.Detection{}
	}
	c.JSON(http.StatusOK, gin.H{"ml_results": dets})
}

func (a *API) GetStatus(c *gin.Context) {
	status, ok := a.Status.Get()
	if !ok {
		status = "Starting..."
	}
	c.JSON(http.StatusOK, gin.H{"camera_status": status})
}

func (a *API) GetGPS(c *gin.Context) {
	fix, ok := a.GPS.Get()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"lat": nil, "lon": nil, "speed": nil, "fix": false})
		return
	}
	c.JSON(http.StatusOK, fix)
}

func (a *API) GetEvents(c *gin.Context) {
	if a.Events == nil {
		c.JSON(http.StatusOK, gin.H{"events": []eventlog.Incident{}})
		return
	}
	items, err := a.Events.List()
	if err != nil {
		slog.Error("Failed to list incidents", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": items})
}

func (a *API) Health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if a.Camera != nil {
		body["camera_state"] = a.Camera.State().String()
		body["frames"] = a.Camera.FramesCaptured()
	}
	c.JSON(http.StatusOK, body)
}
