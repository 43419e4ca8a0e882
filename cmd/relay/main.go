package main

import (
	"context"
	"embed"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/RafhaelMaglunob/pistream-cloud/cmd/relay/handlers"
	"github.com/RafhaelMaglunob/pistream-cloud/cmd/relay/middleware"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/camera"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/cell"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/logger"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/relay"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/stream"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/telemetry"
)

//go:embed templates/*
var templateFS embed.FS

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger.Setup(os.Getenv("LOG_LEVEL"))
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "http://"), "https://")
	shutdownTelemetry, err := telemetry.Setup(ctx, "relay", endpoint)
	if err != nil {
		slog.Error("Failed to setup telemetry", "error", err)
	} else {
		defer shutdownTelemetry(context.Background())
	}

	// --- Authentication Setup ---
	pushSecret := getenv("PUSH_SECRET", "changeme123")
	users := map[string]string{
		"admin":  getenv("ADMIN_PASSWORD", "admin123"),
		"viewer": getenv("VIEWER_PASSWORD", "viewer123"),
	}
	if os.Getenv("PUSH_SECRET") == "" || os.Getenv("SECRET_KEY") == "" {
		slog.Warn("PUSH_SECRET or SECRET_KEY not set, using built-in defaults")
	}

	store := handlers.NewStore()
	live := handlers.NewLive(store)
	go live.Run(ctx)

	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		sub := &handlers.Subscriber{Store: store, Prefix: getenv("MQTT_PREFIX", "pistream"), Secret: pushSecret}
		client, err := relay.ConnectMQTT(ctx, broker, sub.OnConnect)
		if err != nil {
			slog.Error("MQTT ingest disabled", "broker", broker, "error", err)
		} else {
			defer client.Disconnect(250)
		}
	}

	router := newRouter(store, live, users, pushSecret, []byte(getenv("SECRET_KEY", "supersecretkey123")))

	srv := &http.Server{
		Addr:              ":" + getenv("PORT", "5000"),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Relay server is running", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Failed to run server", "error", err)
	}
}

func newRouter(store *handlers.Store, live *handlers.Live, users map[string]string, pushSecret string, sessionKey []byte) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.SetTrustedProxies([]string{"127.0.0.1"})

	cookieStore := cookie.NewStore(sessionKey)
	cookieStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	router.Use(sessions.Sessions("pistream_session", cookieStore))

	authHandler := &handlers.AuthHandler{Users: users, TemplateFS: templateFS}
	viewer := &handlers.ViewerHandler{Store: store, TemplateFS: templateFS}
	push := &handlers.PushHandler{Store: store}
	mjpeg := stream.NewGenerator(store.Frames, cell.New[*camera.Frame](), store.FirstFrame)

	// --- Public Routes ---
	router.GET("/login", authHandler.LoginPage)
	router.POST("/login", authHandler.Login)
	router.GET("/logout", authHandler.Logout)
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	// --- Device Routes ---
	device := router.Group("/push", middleware.PushSecret(pushSecret))
	device.POST("/frame", push.Class(handlers.ClassFrame))
	device.POST("/ml", push.Class(handlers.ClassDetections))
	device.POST("/status", push.Class(handlers.ClassStatus))
	device.POST("/gps", push.Class(handlers.ClassGPS))

	// --- Authenticated Routes ---
	authorized := router.Group("/", middleware.AuthRequired)
	authorized.GET("/", viewer.Index)
	authorized.GET("/snapshot.jpg", viewer.Snapshot)
	authorized.GET("/stream", mjpeg.Handler)
	authorized.GET("/ml_results", viewer.MLResults)
	authorized.GET("/status", viewer.Status)
	authorized.GET("/gps", viewer.GPS)
	authorized.GET("/ws", live.Handler)

	return router
}
