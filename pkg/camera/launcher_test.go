//go:build linux || darwin

package camera

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shLauncher(script string) *ExecLauncher {
	return &ExecLauncher{Path: "sh", Args: []string{"-c", script}}
}

func TestExecLauncherMissingBinary(t *testing.T) {
	l := &ExecLauncher{Path: "pistream-no-such-camera-binary"}
	_, err := l.Launch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceNotFound), "got %v", err)
}

func TestExecProcessStreamsStdoutAndKeepsStderr(t *testing.T) {
	proc, err := shLauncher(`printf 'JPEG'; echo oops >&2`).Launch(context.Background())
	require.NoError(t, err)

	out, err := io.ReadAll(proc.Stdout())
	require.NoError(t, err)
	assert.Equal(t, "JPEG", string(out))

	assert.NoError(t, proc.Stop(time.Second))
	assert.Equal(t, "oops\n", proc.Diagnostics())
	// Stop is idempotent.
	assert.NoError(t, proc.Stop(time.Second))
}

func TestExecProcessKilledAfterGrace(t *testing.T) {
	proc, err := shLauncher(`trap '' TERM; echo ready; while true; do sleep 0.05; done`).Launch(context.Background())
	require.NoError(t, err)

	line, err := bufio.NewReader(proc.Stdout()).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "ready\n", line)

	start := time.Now()
	err = proc.Stop(300 * time.Millisecond)
	elapsed := time.Since(start)

	assert.Error(t, err, "a killed process reports its signal")
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestExecProcessStopsOnSIGTERM(t *testing.T) {
	proc, err := shLauncher(`echo ready; while true; do sleep 0.05; done`).Launch(context.Background())
	require.NoError(t, err)
	_, err = bufio.NewReader(proc.Stdout()).ReadString('\n')
	require.NoError(t, err)

	start := time.Now()
	_ = proc.Stop(5 * time.Second)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	b := newTailBuffer(4)
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "cdef", b.String())

	b.Write([]byte("gh"))
	assert.Equal(t, "efgh", b.String())

	big := newTailBuffer(2048)
	big.Write([]byte(strings.Repeat("x", 5000) + "tail"))
	assert.Len(t, big.String(), 2048)
	assert.True(t, strings.HasSuffix(big.String(), "tail"))
}
