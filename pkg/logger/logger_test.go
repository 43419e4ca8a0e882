package logger

import (
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" DEBUG ": slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestCronLoggerError(t *testing.T) {
	var buf strings.Builder
	l := &CronLogger{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	l.Info("tick", "entry", 1)
	l.Error(errors.New("boom"), "job failed", "entry", 2)

	out := buf.String()
	assert.NotContains(t, out, "tick")
	assert.Contains(t, out, "job failed")
	assert.Contains(t, out, "error=boom")
}
