package handlers

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	Users      map[string]string // username -> password
	TemplateFS embed.FS
}

func (h *AuthHandler) LoginPage(c *gin.Context) {
	h.render(c, http.StatusOK, "")
}

func (h *AuthHandler) Login(c *gin.Context) {
	session := sessions.Default(c)
	formUser := c.PostForm("username")
	formPassword := c.PostForm("password")

	want, ok := h.Users[formUser]
	if !ok || formPassword != want {
		slog.Warn("Failed login", "user", formUser, "ip", c.ClientIP())
		h.render(c, http.StatusUnauthorized, "Wrong username or password")
		return
	}

	session.Set("user", formUser)
	if err := session.Save(); err != nil {
		slog.Error("Failed to save session", "error", err)
		c.String(http.StatusInternalServerError, "Failed to save session")
		return
	}
	slog.Info("User logged in", "user", formUser)
	c.Redirect(http.StatusFound, "/")
}

func (h *AuthHandler) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		slog.Error("Failed to clear session", "error", err)
	}
	c.Redirect(http.StatusFound, "/login")
}

func (h *AuthHandler) render(c *gin.Context, status int, errMsg string) {
	tmpl, err := template.ParseFS(h.TemplateFS, "templates/login.html")
	if err != nil {
		slog.Error("Failed to parse login template", "error", err)
		c.String(http.StatusInternalServerError, "Failed to render page")
		return
	}
	c.Status(status)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(c.Writer, gin.H{"error": errMsg}); err != nil {
		slog.Error("Template execution error", "error", err)
	}
}
