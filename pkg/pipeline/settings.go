// Package pipeline runs the consumers of the raw frame cell: the overlay
// renderer and the detection worker.
package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/RafhaelMaglunob/pistream-cloud/pkg/vision"
)

// ErrInvalidMode is returned for an unknown color sampling mode.
var ErrInvalidMode = errors.New("invalid color mode")

// SettingsSnapshot is a point-in-time copy of Settings.
type SettingsSnapshot struct {
	ColorEnabled bool             `json:"enabled"`
	ColorMode    vision.ColorMode `json:"mode"`
	MLEnabled    bool             `json:"ml_enabled"`
}

// Settings holds the runtime toggles changed through the control API.
type Settings struct {
	mu  sync.RWMutex
	cur SettingsSnapshot
}

// NewSettings validates the initial values.
func NewSettings(colorEnabled bool, mode vision.ColorMode, mlEnabled bool) (*Settings, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	return &Settings{cur: SettingsSnapshot{ColorEnabled: colorEnabled, ColorMode: mode, MLEnabled: mlEnabled}}, nil
}

func (s *Settings) Snapshot() SettingsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// SetColor updates color sampling. An empty mode keeps the current one.
func (s *Settings) SetColor(enabled bool, mode vision.ColorMode) error {
	if mode != "" && !mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.ColorEnabled = enabled
	if mode != "" {
		s.cur.ColorMode = mode
	}
	return nil
}

func (s *Settings) SetML(enabled bool) {
	s.mu.Lock()
	s.cur.MLEnabled = enabled
	s.mu.Unlock()
}
