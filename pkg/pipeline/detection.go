package pipeline

import (
	"bytes"
	"context"
	"image/jpeg"
	"log/slog"
	"time"

	"github.com/RafhaelMaglunob/pistream-cloud/pkg/camera"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/cell"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/detector"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/vision"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	DetectionInterval = 500 * time.Millisecond
	CrashLabel        = "motor_crash"
	CrashConfidence   = 0.90
)

var incidentCounter metric.Int64Counter

func init() {
	var err error
	incidentCounter, err = otel.Meter("github.com/RafhaelMaglunob/pistream-cloud/pkg/pipeline").Int64Counter(
		"detection.incidents",
		metric.WithDescription("Transitions from no detections to at least one"),
	)
	if err != nil {
		slog.Error("Failed to create detection metrics", "error", err)
	}
}

// IncidentHook is notified when detections appear. Hooks run on their own
// goroutine.
type IncidentHook func(ctx context.Context, dets []vision.Detection)

// DetectionWorker runs the detector on the latest raw frame when enabled.
type DetectionWorker struct {
	Interval      time.Duration
	Timeout       time.Duration
	Label         string
	MinConfidence float64

	raw      *cell.Cell[*camera.Frame]
	results  *cell.Cell[[]vision.Detection]
	settings *Settings
	detector detector.Detector
	out      Offerer[[]vision.Detection]
	hooks    []IncidentHook

	last   *camera.Frame
	active bool
}

type DetectionOptions struct {
	Raw      *cell.Cell[*camera.Frame]
	Results  *cell.Cell[[]vision.Detection]
	Settings *Settings
	Detector detector.Detector
	Out      Offerer[[]vision.Detection] // optional
}

func NewDetectionWorker(opts DetectionOptions) *DetectionWorker {
	return &DetectionWorker{
		Interval:      DetectionInterval,
		Timeout:       5 * time.Second,
		Label:         CrashLabel,
		MinConfidence: CrashConfidence,
		raw:           opts.Raw,
		results:       opts.Results,
		settings:      opts.Settings,
		detector:      opts.Detector,
		out:           opts.Out,
	}
}

// OnIncident registers a hook. Not safe to call once Run has started.
func (w *DetectionWorker) OnIncident(h IncidentHook) {
	w.hooks = append(w.hooks, h)
}

func (w *DetectionWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Step(ctx)
		}
	}
}

// Step runs one detection pass. It reports whether results were published.
func (w *DetectionWorker) Step(ctx context.Context) bool {
	if !w.settings.Snapshot().MLEnabled {
		return false
	}
	frame, ok := w.raw.Get()
	if !ok || frame == nil || frame == w.last {
		return false
	}
	w.last = frame

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(frame.Data))
	if err != nil {
		slog.Warn("ML detection error", "error", err)
		return false
	}

	dctx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()
	dets, err := w.detector.Detect(dctx, frame.Data)
	if err != nil {
		slog.Warn("ML detection error", "error", err)
		return false
	}

	filtered := vision.Filter(dets, w.Label, w.MinConfidence, cfg.Width)
	w.results.Set(filtered)
	if w.out != nil {
		w.out.Offer(filtered)
	}

	if len(filtered) > 0 && !w.active {
		incidentCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("zone", string(filtered[0].Zone))))
		slog.Info("Incident detected", "detections", len(filtered), "zone", filtered[0].Zone)
		for _, h := range w.hooks {
			go h(context.WithoutCancel(ctx), filtered)
		}
	}
	w.active = len(filtered) > 0
	return true
}
