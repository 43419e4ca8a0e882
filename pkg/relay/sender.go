package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/RafhaelMaglunob/pistream-cloud/pkg/camera"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/gps"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/vision"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/RafhaelMaglunob/pistream-cloud/pkg/relay")

// Data classes, also used as metric attributes.
const (
	ClassFrame      = "frame"
	ClassDetections = "ml"
	ClassStatus     = "status"
	ClassGPS        = "gps"
)

// Pusher delivers one item of each class to the collector.
type Pusher interface {
	PushFrame(ctx context.Context, jpeg []byte) error
	PushDetections(ctx context.Context, dets []vision.Detection) error
	PushStatus(ctx context.Context, status string) error
	PushGPS(ctx context.Context, fix gps.Fix) error
}

// Queues is the set of per-class relay queues.
type Queues struct {
	Frames     *Queue[*camera.Frame]
	Detections *Queue[[]vision.Detection]
	Status     *Queue[string]
	GPS        *Queue[gps.Fix]
}

// NewQueues returns the standard capacities: 2 frames, 5 of everything else.
func NewQueues() *Queues {
	return &Queues{
		Frames:     NewQueue[*camera.Frame](ClassFrame, 2, DropNewest),
		Detections: NewQueue[[]vision.Detection](ClassDetections, 5, KeepNewest),
		Status:     NewQueue[string](ClassStatus, 5, KeepNewest),
		GPS:        NewQueue[gps.Fix](ClassGPS, 5, KeepNewest),
	}
}

// Intervals is the minimum spacing between successful pushes per class.
type Intervals struct {
	Frame      time.Duration `yaml:"frame"`
	Detections time.Duration `yaml:"detections"`
	Status     time.Duration `yaml:"status"`
	GPS        time.Duration `yaml:"gps"`
}

func DefaultIntervals() Intervals {
	return Intervals{
		Frame:      500 * time.Millisecond,
		Detections: time.Second,
		Status:     5 * time.Second,
		GPS:        5 * time.Second,
	}
}

// Sender drains the queues at per-class cadences and pushes to the collector.
// It is the only component that blocks on the network.
type Sender struct {
	Tick    time.Duration
	Timeout time.Duration

	lanes []stepper
}

type stepper interface {
	step(ctx context.Context, now time.Time, timeout time.Duration)
}

func NewSender(q *Queues, p Pusher, iv Intervals) *Sender {
	return &Sender{
		Tick:    100 * time.Millisecond,
		Timeout: 3 * time.Second,
		lanes: []stepper{
			&lane[*camera.Frame]{class: ClassFrame, interval: iv.Frame, queue: q.Frames,
				push: func(ctx context.Context, f *camera.Frame) error { return p.PushFrame(ctx, f.Data) }},
			&lane[[]vision.Detection]{class: ClassDetections, interval: iv.Detections, queue: q.Detections,
				push: p.PushDetections},
			&lane[string]{class: ClassStatus, interval: iv.Status, queue: q.Status,
				push: p.PushStatus},
			&lane[gps.Fix]{class: ClassGPS, interval: iv.GPS, queue: q.GPS,
				push: p.PushGPS},
		},
	}
}

func (s *Sender) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Step(ctx, now)
		}
	}
}

// Step gives every class one chance to push.
func (s *Sender) Step(ctx context.Context, now time.Time) {
	for _, l := range s.lanes {
		if ctx.Err() != nil {
			return
		}
		l.step(ctx, now, s.Timeout)
	}
}

type lane[T any] struct {
	class    string
	interval time.Duration
	queue    *Queue[T]
	push     func(context.Context, T) error

	pending T
	has     bool
	last    time.Time
}

func (l *lane[T]) step(ctx context.Context, now time.Time, timeout time.Duration) {
	if !l.last.IsZero() && now.Sub(l.last) < l.interval {
		return
	}
	if v, ok := l.queue.Latest(); ok {
		l.pending, l.has = v, true
	}
	if !l.has {
		return
	}

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	pctx, span := tracer.Start(pctx, "relay.push",
		trace.WithAttributes(attribute.String("class", l.class)))
	defer span.End()

	if err := l.push(pctx, l.pending); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		pushCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("class", l.class), attribute.String("result", "error")))
		if errors.Is(err, ErrUnauthorized) {
			slog.Error("Collector rejected the push secret, check PUSH_SECRET", "class", l.class)
		} else {
			slog.Warn("Push failed, retrying", "class", l.class, "error", err)
		}
		return
	}

	var zero T
	l.pending, l.has = zero, false
	l.last = now
	pushCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("class", l.class), attribute.String("result", "ok")))
}
