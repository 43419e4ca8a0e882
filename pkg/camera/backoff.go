package camera

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

var _ backoff.BackOff = (*RestartBackOff)(nil)

// RestartBackOff is the delay policy between source process restarts.
//
// The delay is Step × (K+1), capped at Max, where K counts consecutive runs
// that produced no frame at all. A run with at least one frame resets K.
type RestartBackOff struct {
	Step     time.Duration
	Max      time.Duration
	failures int
}

// NewRestartBackOff returns the default 2s step, 15s cap policy.
func NewRestartBackOff() *RestartBackOff {
	return &RestartBackOff{Step: 2 * time.Second, Max: 15 * time.Second}
}

// Observe records the outcome of one run.
func (b *RestartBackOff) Observe(framesCaptured int) {
	if framesCaptured == 0 {
		b.failures++
		return
	}
	b.failures = 0
}

// Failures returns the current count of consecutive zero-frame runs.
func (b *RestartBackOff) Failures() int {
	return b.failures
}

// NextBackOff implements backoff.BackOff. It never returns backoff.Stop.
func (b *RestartBackOff) NextBackOff() time.Duration {
	d := b.Step * time.Duration(b.failures+1)
	if d > b.Max {
		return b.Max
	}
	return d
}

// Reset implements backoff.BackOff.
func (b *RestartBackOff) Reset() {
	b.failures = 0
}
