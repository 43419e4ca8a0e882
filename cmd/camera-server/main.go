package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/RafhaelMaglunob/pistream-cloud/cmd/camera-server/handlers"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/alarm"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/camera"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/cell"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/config"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/detector"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/eventlog"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/gps"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/logger"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/pipeline"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/relay"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/stream"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/telemetry"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/vision"
)

//go:embed templates/*
var templateFS embed.FS

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", "error", err)
	}
	logger.Setup(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, "camera-server", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("Failed to setup telemetry", "error", err)
	} else {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(sctx); err != nil {
				slog.Error("Failed to shutdown telemetry", "error", err)
			}
		}()
	}

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("Camera server failed", "error", err)
	}
	slog.Info("Camera server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	var (
		raw        = cell.New[*camera.Frame]()
		overlay    = cell.New[*camera.Frame]()
		status     = cell.New[string]()
		colors     = cell.New[[]vision.ColorSample]()
		detections = cell.New[[]vision.Detection]()
		fixes      = cell.New[gps.Fix]()
		firstFrame = &cell.Latch{}
	)
	status.Set("Starting...")

	settings, err := pipeline.NewSettings(cfg.Overlay.ColorEnabled, vision.ColorMode(cfg.Overlay.ColorMode), cfg.Detection.Enabled)
	if err != nil {
		return err
	}

	queues := relay.NewQueues()
	cloud := cfg.Cloud.Enabled

	launcher := camera.NewExecLauncher(camera.SourceConfig{
		Command:   cfg.Camera.Command,
		Width:     cfg.Camera.Width,
		Height:    cfg.Camera.Height,
		Framerate: cfg.Camera.Framerate,
		Quality:   cfg.Camera.Quality,
	})
	camCfg := camera.DefaultConfig()
	camCfg.Watchdog = cfg.Camera.Watchdog
	supOpts := camera.Options{
		Launcher:   launcher,
		Reserver:   camera.NewDeviceReserver(launcher.Path),
		Raw:        raw,
		Overlay:    overlay,
		Status:     status,
		FirstFrame: firstFrame,
	}
	if cloud {
		supOpts.OnStatus = func(s string) { queues.Status.Offer(s) }
	}
	supervisor := camera.NewSupervisor(camCfg, supOpts)

	overlayOpts := pipeline.OverlayOptions{
		Raw:        raw,
		Overlay:    overlay,
		Colors:     colors,
		Detections: detections,
		Settings:   settings,
	}
	detOpts := pipeline.DetectionOptions{
		Raw:      raw,
		Results:  detections,
		Settings: settings,
		Detector: detector.NewClient(cfg.Detection.URL),
	}
	if cloud {
		overlayOpts.Out = queues.Frames
		detOpts.Out = queues.Detections
	}
	overlayWorker := pipeline.NewOverlayWorker(overlayOpts)
	detWorker := pipeline.NewDetectionWorker(detOpts)
	detWorker.Label = cfg.Detection.Label
	detWorker.MinConfidence = cfg.Detection.MinConfidence
	detWorker.Timeout = cfg.Detection.Timeout

	events := eventlog.New(filepath.Join(cfg.DataDir, "events"), cfg.Events.Retention)
	events.Frames = overlay
	detWorker.OnIncident(events.OnIncident)

	if cfg.Alarm.Enabled {
		a, closeAlarm := setupAlarm(cfg.Alarm)
		defer closeAlarm()
		detWorker.OnIncident(a.Trigger)
	}

	gpsCfg := gps.Config{Port: cfg.GPS.Port, Baud: cfg.GPS.Baud, Static: cfg.GPS.Static}
	var gpsSink gps.Sink
	if cloud {
		gpsSink = queues.GPS
	}
	gpsWorker := gps.NewWorker(gpsCfg, fixes, gpsSink)

	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("Worker started", "worker", name)
			fn(ctx)
			slog.Info("Worker stopped", "worker", name)
		}()
	}

	start("camera", func(ctx context.Context) { _ = supervisor.Run(ctx) })
	start("overlay", overlayWorker.Run)
	start("detection", detWorker.Run)
	start("gps", func(ctx context.Context) {
		if err := gpsWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("GPS worker failed", "error", err)
		}
	})

	if cloud {
		pusher, closePusher, err := newPusher(ctx, cfg.Cloud)
		if err != nil {
			slog.Error("Cloud relay disabled", "error", err)
		} else {
			defer closePusher()
			sender := relay.NewSender(queues, pusher, cfg.Cloud.Intervals)
			sender.Timeout = cfg.Cloud.Timeout
			start("relay", sender.Run)
		}
	}

	c := cron.New(cron.WithLogger(&logger.CronLogger{Logger: slog.Default()}))
	if _, err := c.AddFunc(cfg.Events.Prune, func() {
		n, err := events.Prune()
		if err != nil {
			slog.Error("Failed to prune incidents", "error", err)
			return
		}
		if n > 0 {
			slog.Info("Pruned incidents", "count", n)
		}
	}); err != nil {
		slog.Error("Invalid prune schedule", "schedule", cfg.Events.Prune, "error", err)
	}
	if _, err := c.AddFunc("@every 1m", func() {
		slog.Info("Pipeline stats",
			"state", supervisor.State().String(),
			"frames", supervisor.FramesCaptured(),
			"queued_frames", queues.Frames.Len(),
		)
	}); err != nil {
		slog.Error("Failed to schedule stats", "error", err)
	}
	c.Start()
	defer c.Stop()

	api := &handlers.API{
		Stream:     stream.NewGenerator(overlay, raw, firstFrame),
		Settings:   settings,
		Colors:     colors,
		Detections: detections,
		Status:     status,
		GPS:        fixes,
		Events:     events,
		Camera:     supervisor,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.SetTrustedProxies([]string{"127.0.0.1"})
	index, err := templateFS.ReadFile("templates/index.html")
	if err != nil {
		return fmt.Errorf("failed to read index template: %w", err)
	}
	router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", index)
	})
	router.Static("/snapshots", events.SnapshotDir())
	api.Register(router)

	ln, err := listenFirst(cfg.Ports)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: router}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			slog.Error("Server shutdown failed", "error", err)
		}
	}()

	slog.Info("Server is running", "addr", "http://"+ln.Addr().String())
	err = srv.Serve(ln)
	wg.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		return ctx.Err()
	}
	return err
}

// listenFirst binds the first port from ports that is free.
func listenFirst(ports []int) (net.Listener, error) {
	var errs []error
	for _, p := range ports {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", p))
		if err == nil {
			return ln, nil
		}
		slog.Warn("Port in use", "port", p)
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("no free port in %v: %w", ports, errors.Join(errs...))
}

func setupAlarm(cfg config.AlarmConfig) (*alarm.Alarm, func()) {
	indicator, err := alarm.NewIndicator(cfg.Chip, cfg.Line)
	if err != nil {
		slog.Error("Alarm indicator unavailable", "chip", cfg.Chip, "line", cfg.Line, "error", err)
	}

	var (
		player alarm.Player
		sound  []byte
	)
	if cfg.Sound != "" {
		pcm, err := alarm.LoadSound(cfg.Sound)
		if err != nil {
			slog.Error("Failed to load alarm sound", "path", cfg.Sound, "error", err)
		} else if p, err := alarm.NewOtoPlayer(); err != nil {
			slog.Error("Audio output unavailable", "error", err)
		} else {
			player, sound = p, pcm
		}
	}

	a := alarm.New(indicator, player, sound)
	a.Hold = cfg.Hold
	a.Cooldown = cfg.Cooldown
	return a, func() {
		if indicator != nil {
			_ = indicator.Close()
		}
	}
}

func newPusher(ctx context.Context, cfg config.CloudConfig) (relay.Pusher, func(), error) {
	switch cfg.Transport {
	case "mqtt":
		p, err := relay.DialMQTT(ctx, cfg.MQTTBroker, cfg.MQTTPrefix, cfg.Secret)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Relaying to MQTT broker", "broker", cfg.MQTTBroker, "prefix", cfg.MQTTPrefix)
		return p, p.Close, nil
	default:
		p := relay.NewHTTPPusher(cfg.URL, cfg.Secret)
		slog.Info("Relaying to collector", "url", p.BaseURL)
		return p, func() {}, nil
	}
}
