//go:build !linux

package alarm

import "log/slog"

// logIndicator stands in for the GPIO line where there is none.
type logIndicator struct{}

func NewIndicator(chip string, offset int) (Indicator, error) {
	slog.Info("[MOCK] Alarm line without GPIO", "chip", chip, "offset", offset)
	return logIndicator{}, nil
}

func (logIndicator) Set(on bool) error {
	slog.Info("[MOCK] Alarm line", "on", on)
	return nil
}

func (logIndicator) Close() error { return nil }
