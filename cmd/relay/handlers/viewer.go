package handlers

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ViewerHandler serves the authenticated dashboard and its data endpoints.
type ViewerHandler struct {
	Store      *Store
	TemplateFS embed.FS
}

func (h *ViewerHandler) Index(c *gin.Context) {
	tmpl, err := template.ParseFS(h.TemplateFS, "templates/index.html")
	if err != nil {
		slog.Error("Failed to parse index template", "error", err)
		c.String(http.StatusInternalServerError, "Failed to render page")
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	user, _ := c.Get("user")
	if err := tmpl.Execute(c.Writer, gin.H{"username": user}); err != nil {
		slog.Error("Template execution error", "error", err)
	}
}

func (h *ViewerHandler) Snapshot(c *gin.Context) {
	f, ok := h.Store.Frames.Get()
	if !ok || f == nil {
		c.String(http.StatusServiceUnavailable, "No frame yet")
		return
	}
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Data(http.StatusOK, "image/jpeg", f.Data)
}

func (h *ViewerHandler) MLResults(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ml_results": h.Store.Snapshot().Detections})
}

func (h *ViewerHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"camera_status": h.Store.Status.Load()})
}

func (h *ViewerHandler) GPS(c *gin.Context) {
	c.JSON(http.StatusOK, h.Store.Location.Load())
}
