package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/RafhaelMaglunob/pistream-cloud/pkg/cell"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	framesCounter    metric.Int64Counter
	discardedCounter metric.Int64Counter
	restartsCounter  metric.Int64Counter
	overflowCounter  metric.Int64Counter
)

func init() {
	var err error
	meter := otel.Meter("github.com/RafhaelMaglunob/pistream-cloud/pkg/camera")
	framesCounter, err = meter.Int64Counter("camera.frames",
		metric.WithDescription("Valid frames published from the capture stream"),
		metric.WithUnit("{frames}"),
	)
	if err != nil {
		slog.Error("Failed to create camera metrics", "error", err)
	}
	discardedCounter, _ = meter.Int64Counter("camera.frames.discarded",
		metric.WithDescription("Undersized units dropped by the demuxer"),
		metric.WithUnit("{frames}"),
	)
	restartsCounter, _ = meter.Int64Counter("camera.restarts",
		metric.WithDescription("Source process restarts"),
	)
	overflowCounter, _ = meter.Int64Counter("camera.buffer.overflows",
		metric.WithDescription("Demux buffer resets due to missing frame boundaries"),
	)
}

// State is the supervisor's position in its restart cycle.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateAwaitingFirstFrame
	StateStreaming
	StateStalled
	StateProcessEnded
	StateStartupFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateAwaitingFirstFrame:
		return "awaiting_first_frame"
	case StateStreaming:
		return "streaming"
	case StateStalled:
		return "stalled"
	case StateProcessEnded:
		return "process_ended"
	case StateStartupFailed:
		return "startup_failed"
	default:
		return "unknown"
	}
}

// DeviceReserver makes sure no stale source instance holds the camera.
type DeviceReserver interface {
	Reserve(ctx context.Context) error
}

// NopReserver does nothing.
type NopReserver struct{}

func (NopReserver) Reserve(context.Context) error { return nil }

// Config tunes the supervisor. Zero fields take the defaults.
type Config struct {
	Watchdog     time.Duration // no valid frame for this long restarts the source
	StopGrace    time.Duration // SIGTERM to SIGKILL escalation
	StartupRetry time.Duration // delay after the source binary was not found
	ReadChunk    int
	MaxBuffer    int
	MinFrameSize int
	HealthEvery  int // publish a "running OK" status every N frames
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		Watchdog:     10 * time.Second,
		StopGrace:    3 * time.Second,
		StartupRetry: 10 * time.Second,
		ReadChunk:    8192,
		MaxBuffer:    MaxBufferSize,
		MinFrameSize: MinFrameSize,
		HealthEvery:  150,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Watchdog <= 0 {
		c.Watchdog = d.Watchdog
	}
	if c.StopGrace <= 0 {
		c.StopGrace = d.StopGrace
	}
	if c.StartupRetry <= 0 {
		c.StartupRetry = d.StartupRetry
	}
	if c.ReadChunk <= 0 {
		c.ReadChunk = d.ReadChunk
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = d.MaxBuffer
	}
	if c.MinFrameSize <= 0 {
		c.MinFrameSize = d.MinFrameSize
	}
	if c.HealthEvery <= 0 {
		c.HealthEvery = d.HealthEvery
	}
	return c
}

// Options wires the supervisor to its collaborators and output cells.
type Options struct {
	Launcher   Launcher
	Reserver   DeviceReserver
	Raw        *cell.Cell[*Frame]
	Overlay    *cell.Cell[*Frame]
	Status     *cell.Cell[string]
	FirstFrame *cell.Latch
	// OnStatus is called after every status change. It must not block.
	OnStatus func(string)
}

// Supervisor keeps frames flowing from a possibly crashing source process.
type Supervisor struct {
	cfg      Config
	launcher Launcher
	reserver DeviceReserver
	raw      *cell.Cell[*Frame]
	overlay  *cell.Cell[*Frame]
	status   *cell.Cell[string]
	ready    *cell.Latch
	onStatus func(string)
	backoff  *RestartBackOff

	state atomic.Int32
	seq   atomic.Uint64
	total atomic.Uint64

	// sleep waits between iterations; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSupervisor creates a supervisor. Missing cells are allocated so callers
// only need to pass the ones they read.
func NewSupervisor(cfg Config, opts Options) *Supervisor {
	s := &Supervisor{
		cfg:      cfg.withDefaults(),
		launcher: opts.Launcher,
		reserver: opts.Reserver,
		raw:      opts.Raw,
		overlay:  opts.Overlay,
		status:   opts.Status,
		ready:    opts.FirstFrame,
		onStatus: opts.OnStatus,
		backoff:  NewRestartBackOff(),
		sleep:    sleepCtx,
	}
	if s.reserver == nil {
		s.reserver = NopReserver{}
	}
	if s.raw == nil {
		s.raw = cell.New[*Frame]()
	}
	if s.overlay == nil {
		s.overlay = cell.New[*Frame]()
	}
	if s.status == nil {
		s.status = cell.New[string]()
	}
	if s.ready == nil {
		s.ready = &cell.Latch{}
	}
	return s
}

// State returns the current supervisor state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// FramesCaptured returns the number of frames published since start.
func (s *Supervisor) FramesCaptured() uint64 {
	return s.total.Load()
}

// Run supervises the source until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		delay := s.iterate(ctx)
		if ctx.Err() != nil {
			s.setState(StateIdle)
			return ctx.Err()
		}
		if err := s.sleep(ctx, delay); err != nil {
			s.setState(StateIdle)
			return err
		}
	}
}

// iterate runs the source once and returns how long to wait before the next
// attempt.
func (s *Supervisor) iterate(ctx context.Context) time.Duration {
	s.setState(StateIdle)
	s.publishStatus("Killing any stale camera processes...")
	if err := s.reserver.Reserve(ctx); err != nil {
		slog.Debug("Device reservation failed", "error", err)
	}
	if ctx.Err() != nil {
		return 0
	}

	s.setState(StateStarting)
	s.publishStatus(fmt.Sprintf("Starting %s...", s.launcher.Name()))
	proc, err := s.launcher.Launch(ctx)
	if err != nil {
		if errors.Is(err, ErrSourceNotFound) {
			s.setState(StateStartupFailed)
			s.publishStatus(fmt.Sprintf("ERROR: %s not found! Is libcamera installed?", s.launcher.Name()))
			return s.cfg.StartupRetry
		}
		s.publishStatus(fmt.Sprintf("Unexpected camera error: %v", err))
		return s.restartDelay(0)
	}

	frames := s.stream(ctx, proc)

	if err := proc.Stop(s.cfg.StopGrace); err != nil {
		slog.Debug("Camera process exit", "error", err)
	}
	s.raw.Clear()
	s.overlay.Clear()

	if ctx.Err() != nil {
		return 0
	}
	return s.restartDelay(frames)
}

// stream demultiplexes proc's stdout until the process ends, the watchdog
// fires or ctx is cancelled. It returns the number of frames published.
func (s *Supervisor) stream(ctx context.Context, proc Process) int {
	chunks := make(chan []byte)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		buf := make([]byte, s.cfg.ReadChunk)
		r := proc.Stdout()
		for {
			n, err := r.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case chunks <- chunk:
				case <-stop:
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	demux := NewDemuxer(s.cfg.MaxBuffer, s.cfg.MinFrameSize)
	watchdog := time.NewTimer(s.cfg.Watchdog)
	defer watchdog.Stop()

	s.setState(StateAwaitingFirstFrame)
	s.publishStatus("Camera started, waiting for first frame...")

	frames := 0
	for {
		select {
		case <-ctx.Done():
			return frames

		case <-watchdog.C:
			s.setState(StateStalled)
			s.publishStatus(fmt.Sprintf("Watchdog: no frame for %s, restarting...", s.cfg.Watchdog))
			return frames

		case err := <-readErr:
			s.setState(StateProcessEnded)
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				// Let the process exit so its stderr is complete.
				_ = proc.Stop(s.cfg.StopGrace)
				diag := strings.TrimSpace(proc.Diagnostics())
				if diag == "" {
					diag = "(none)"
				}
				s.publishStatus("Camera process ended. stderr: " + diag)
			} else {
				s.publishStatus(fmt.Sprintf("Read error: %v", err))
			}
			return frames

		case chunk := <-chunks:
			res := demux.Feed(chunk)
			if res.Discarded > 0 {
				slog.Debug("Skipping tiny frames", "count", res.Discarded)
				discardedCounter.Add(ctx, int64(res.Discarded))
			}
			if res.Overflow {
				overflowCounter.Add(ctx, 1)
				s.publishStatus("Buffer overflow (4MB), resetting buffer...")
			}
			for _, data := range res.Frames {
				s.publishFrame(data)
				frames++
				watchdog.Reset(s.cfg.Watchdog)

				if frames == 1 {
					s.setState(StateStreaming)
					s.publishStatus("First frame received, streaming!")
				} else if frames%s.cfg.HealthEvery == 0 {
					s.publishStatus(fmt.Sprintf("Running OK, %d frames captured", frames))
				}
			}
			if len(res.Frames) > 0 {
				framesCounter.Add(ctx, int64(len(res.Frames)))
			}
		}
	}
}

func (s *Supervisor) publishFrame(data []byte) {
	f := &Frame{
		Data:       data,
		Seq:        s.seq.Add(1),
		CapturedAt: time.Now(),
	}
	s.raw.Set(f)
	s.total.Add(1)
	s.ready.Fire()
}

func (s *Supervisor) restartDelay(frames int) time.Duration {
	s.backoff.Observe(frames)
	delay := s.backoff.NextBackOff()
	restartsCounter.Add(context.Background(), 1)
	s.publishStatus(fmt.Sprintf("Restarting camera in %ds (failures: %d)...",
		int(delay/time.Second), s.backoff.Failures()))
	return delay
}

func (s *Supervisor) setState(st State) {
	s.state.Store(int32(st))
}

func (s *Supervisor) publishStatus(msg string) {
	s.status.Set(msg)
	slog.Info("Camera status", "status", msg, "state", s.State().String())
	if s.onStatus != nil {
		s.onStatus(msg)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
