package gps

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/RafhaelMaglunob/pistream-cloud/pkg/cell"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/logger"
	"github.com/cenkalti/backoff/v5"
	"github.com/robfig/cron/v3"
	"go.bug.st/serial"
)

// Sink receives fixes without blocking, typically the GPS relay queue.
type Sink interface {
	Offer(Fix) bool
}

// Config selects the fix source. With Port set the receiver is read; without
// it a Static coordinate is republished on StaticSchedule.
type Config struct {
	Port           string
	Baud           int
	Static         *Coordinate
	StaticSchedule string
	RetryDelay     time.Duration
}

// Coordinate is a fixed position used when no receiver is attached.
type Coordinate struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
}

// OpenFunc opens the receiver's byte stream.
type OpenFunc func(port string, baud int) (io.ReadCloser, error)

// OpenSerial opens a serial port in 8N1 mode.
func OpenSerial(port string, baud int) (io.ReadCloser, error) {
	return serial.Open(port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

// Worker publishes fixes into a cell and an optional sink.
type Worker struct {
	cfg     Config
	fixes   *cell.Cell[Fix]
	sink    Sink
	open    OpenFunc
	backoff backoff.BackOff
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewWorker(cfg Config, fixes *cell.Cell[Fix], sink Sink) *Worker {
	if cfg.Baud <= 0 {
		cfg.Baud = 9600
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.StaticSchedule == "" {
		cfg.StaticSchedule = "@every 30s"
	}
	return &Worker{
		cfg:     cfg,
		fixes:   fixes,
		sink:    sink,
		open:    OpenSerial,
		backoff: backoff.NewConstantBackOff(cfg.RetryDelay),
		now:     time.Now,
		sleep:   sleep,
	}
}

// Run blocks until ctx is cancelled. Without a port or a static coordinate
// it returns immediately.
func (w *Worker) Run(ctx context.Context) error {
	switch {
	case w.cfg.Port != "":
		return w.runSerial(ctx)
	case w.cfg.Static != nil:
		return w.runStatic(ctx)
	default:
		slog.Info("GPS disabled: no port or static coordinate configured")
		return nil
	}
}

func (w *Worker) runSerial(ctx context.Context) error {
	for {
		if err := w.readPort(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("GPS error, retrying", "port", w.cfg.Port, "error", err, "delay", w.cfg.RetryDelay)
		}
		if err := w.sleep(ctx, w.backoff.NextBackOff()); err != nil {
			return err
		}
	}
}

func (w *Worker) readPort(ctx context.Context) error {
	rc, err := w.open(w.cfg.Port, w.cfg.Baud)
	if err != nil {
		return err
	}
	slog.Info("GPS connected", "port", w.cfg.Port, "baud", w.cfg.Baud)

	// Unblock the scanner on shutdown.
	stop := context.AfterFunc(ctx, func() { rc.Close() })
	defer func() {
		if stop() {
			rc.Close()
		}
	}()

	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		fix, err := ParseRMC(sc.Text(), w.now())
		if err != nil {
			if !errors.Is(err, ErrUnsupportedSentence) && !errors.Is(err, ErrNoFix) {
				slog.Debug("Skipping NMEA line", "error", err)
			}
			continue
		}
		w.publish(fix)
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (w *Worker) runStatic(ctx context.Context) error {
	publish := func() {
		w.publish(Fix{Lat: w.cfg.Static.Lat, Lon: w.cfg.Static.Lon, Acquired: true, Time: w.now()})
	}
	publish()

	c := cron.New(cron.WithLogger(&logger.CronLogger{Logger: slog.Default()}))
	if _, err := c.AddFunc(w.cfg.StaticSchedule, publish); err != nil {
		return err
	}
	c.Start()
	slog.Info("GPS using static coordinate", "lat", w.cfg.Static.Lat, "lon", w.cfg.Static.Lon, "schedule", w.cfg.StaticSchedule)

	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

func (w *Worker) publish(fix Fix) {
	w.fixes.Set(fix)
	if w.sink != nil {
		w.sink.Offer(fix)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
