//go:build linux || darwin

package camera

import (
	"context"
	"errors"
	"os/exec"
	"time"
)

// PkillReserver frees the camera device by killing any process whose command
// line matches Pattern. pkill exiting 1 (nothing matched) is not an error.
type PkillReserver struct {
	Pattern string
	Settle  time.Duration
}

// NewDeviceReserver returns the platform's reservation step for the source
// binary.
func NewDeviceReserver(command string) DeviceReserver {
	return &PkillReserver{Pattern: command, Settle: time.Second}
}

func (r *PkillReserver) Reserve(ctx context.Context) error {
	if r.Pattern == "" {
		return nil
	}
	err := exec.CommandContext(ctx, "pkill", "-f", r.Pattern).Run()
	var exitErr *exec.ExitError
	if err != nil && !(errors.As(err, &exitErr) && exitErr.ExitCode() == 1) {
		return err
	}
	return sleepCtx(ctx, r.Settle)
}
