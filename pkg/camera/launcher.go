package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// ErrSourceNotFound is returned by a Launcher when the source binary is missing.
var ErrSourceNotFound = errors.New("camera source binary not found")

// Process is a running video source.
type Process interface {
	// Stdout is the MJPEG byte stream.
	Stdout() io.Reader
	// Diagnostics returns the tail of the process' standard error.
	Diagnostics() string
	// Stop terminates the process, escalating to a kill after grace.
	// It is safe to call more than once.
	Stop(grace time.Duration) error
}

// Launcher starts video source processes.
type Launcher interface {
	Name() string
	Launch(ctx context.Context) (Process, error)
}

// SourceConfig describes the capture parameters passed to the source binary.
type SourceConfig struct {
	Command   string // overrides the platform default binary
	Width     int
	Height    int
	Framerate int
	Quality   int
}

// DefaultSourceConfig is 640x480 @ 15 fps, quality 50.
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{Width: 640, Height: 480, Framerate: 15, Quality: 50}
}

// ExecLauncher spawns the source as a child process.
type ExecLauncher struct {
	Path string
	Args []string
}

// NewExecLauncher builds the platform's source command line from cfg.
func NewExecLauncher(cfg SourceConfig) *ExecLauncher {
	name, args := sourceCommand(cfg)
	if cfg.Command != "" {
		name = cfg.Command
	}
	return &ExecLauncher{Path: name, Args: args}
}

func (l *ExecLauncher) Name() string { return l.Path }

// Launch starts the process with stdout piped and stderr tail-buffered.
func (l *ExecLauncher) Launch(ctx context.Context) (Process, error) {
	cmd := exec.Command(l.Path, l.Args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	// Capture stderr for debugging
	stderr := newTailBuffer(2048)
	cmd.Stderr = stderr
	cmd.WaitDelay = 3 * time.Second

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, l.Path)
		}
		return nil, fmt.Errorf("failed to start %s: %w", l.Path, err)
	}

	slog.Info("Started camera streaming process", "command", l.Path, "pid", cmd.Process.Pid)
	return &execProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer

	stopOnce sync.Once
	waitErr  error
}

func (p *execProcess) Stdout() io.Reader   { return p.stdout }
func (p *execProcess) Diagnostics() string { return p.stderr.String() }

func (p *execProcess) Stop(grace time.Duration) error {
	p.stopOnce.Do(func() {
		done := make(chan error, 1)
		// Fails harmlessly when the process already exited.
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
		go func() { done <- p.cmd.Wait() }()

		select {
		case p.waitErr = <-done:
		case <-time.After(grace):
			slog.Warn("Camera process ignored SIGTERM, killing", "pid", p.cmd.Process.Pid)
			_ = p.cmd.Process.Kill()
			p.waitErr = <-done
		}
	})
	return p.waitErr
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

func itoa(n int) string { return strconv.Itoa(n) }
