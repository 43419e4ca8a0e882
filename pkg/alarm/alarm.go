// Package alarm raises a local alarm when an incident is detected: a GPIO
// output line is driven high and a sound is played.
package alarm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/RafhaelMaglunob/pistream-cloud/pkg/vision"
)

// Indicator is an on/off output such as a buzzer or warning light.
type Indicator interface {
	Set(on bool) error
	Close() error
}

// Player plays 16-bit little-endian 44.1 kHz stereo PCM and blocks until done.
type Player interface {
	Play(pcm []byte) error
}

// Alarm drives an Indicator and a Player on incidents, at most once per
// cooldown period.
type Alarm struct {
	Hold     time.Duration
	Cooldown time.Duration

	indicator Indicator
	player    Player
	sound     []byte

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// New returns an alarm. indicator, player and sound are optional.
func New(indicator Indicator, player Player, sound []byte) *Alarm {
	return &Alarm{
		Hold:      5 * time.Second,
		Cooldown:  30 * time.Second,
		indicator: indicator,
		player:    player,
		sound:     sound,
		now:       time.Now,
	}
}

// Trigger fires the alarm unless it fired within the cooldown. It blocks for
// the hold period and is meant to run on its own goroutine.
func (a *Alarm) Trigger(ctx context.Context, dets []vision.Detection) {
	a.mu.Lock()
	now := a.now()
	if !a.last.IsZero() && now.Sub(a.last) < a.Cooldown {
		a.mu.Unlock()
		slog.Debug("Alarm in cooldown, skipping", "since", now.Sub(a.last))
		return
	}
	a.last = now
	a.mu.Unlock()

	zone := vision.Zone("")
	if len(dets) > 0 {
		zone = dets[0].Zone
	}
	slog.Warn("Alarm raised", "detections", len(dets), "zone", zone)

	if a.indicator != nil {
		if err := a.indicator.Set(true); err != nil {
			slog.Error("Failed to raise alarm line", "error", err)
		}
		defer func() {
			if err := a.indicator.Set(false); err != nil {
				slog.Error("Failed to lower alarm line", "error", err)
			}
		}()
	}

	start := time.Now()
	if a.player != nil && len(a.sound) > 0 {
		if err := a.player.Play(a.sound); err != nil {
			slog.Error("Failed to play alarm sound", "error", err)
		}
	}

	if rest := a.Hold - time.Since(start); rest > 0 {
		t := time.NewTimer(rest)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
	}
}
