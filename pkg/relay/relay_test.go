package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/RafhaelMaglunob/pistream-cloud/pkg/camera"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/gps"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/vision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePolicies(t *testing.T) {
	drop := NewQueue[int]("frame", 2, DropNewest)
	assert.True(t, drop.Offer(1))
	assert.True(t, drop.Offer(2))
	assert.False(t, drop.Offer(3), "full DropNewest queue rejects the new item")
	assert.Equal(t, 2, drop.Len())

	keep := NewQueue[int]("status", 2, KeepNewest)
	keep.Offer(1)
	keep.Offer(2)
	assert.True(t, keep.Offer(3))
	assert.Equal(t, 1, keep.Len())
	v, ok := keep.Latest()
	require.True(t, ok)
	assert.Equal(t, 3, v)

	_, ok = keep.Latest()
	assert.False(t, ok)
}

func TestQueueOfferNeverBlocks(t *testing.T) {
	q := NewQueue[int]("ml", 5, KeepNewest)
	done := make(chan struct{})
	go func() {
		for i := range 10000 {
			q.Offer(i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Offer blocked")
	}
	v, ok := q.Latest()
	require.True(t, ok)
	assert.Equal(t, 9999, v)
}

type recordingPusher struct {
	mu       sync.Mutex
	frames   [][]byte
	dets     [][]vision.Detection
	statuses []string
	fixes    []gps.Fix
	fail     error
}

func (p *recordingPusher) setFail(err error) {
	p.mu.Lock()
	p.fail = err
	p.mu.Unlock()
}

func (p *recordingPusher) PushFrame(_ context.Context, b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.frames = append(p.frames, b)
	return nil
}

func (p *recordingPusher) PushDetections(_ context.Context, d []vision.Detection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.dets = append(p.dets, d)
	return nil
}

func (p *recordingPusher) PushStatus(_ context.Context, s string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.statuses = append(p.statuses, s)
	return nil
}

func (p *recordingPusher) PushGPS(_ context.Context, f gps.Fix) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.fixes = append(p.fixes, f)
	return nil
}

func frame(tag string) *camera.Frame {
	return &camera.Frame{Data: []byte(tag)}
}

func TestSenderPushesNewestQueuedFrame(t *testing.T) {
	q := NewQueues()
	p := &recordingPusher{}
	s := NewSender(q, p, DefaultIntervals())

	q.Frames.Offer(frame("f1"))
	q.Frames.Offer(frame("f2"))
	q.Frames.Offer(frame("f3"))

	now := time.Now()
	s.Step(context.Background(), now)
	s.Step(context.Background(), now.Add(100*time.Millisecond))

	require.Len(t, p.frames, 1)
	assert.Equal(t, "f2", string(p.frames[0]))
}

func TestSenderRateLimits(t *testing.T) {
	q := NewQueues()
	p := &recordingPusher{}
	s := NewSender(q, p, DefaultIntervals())
	ctx := context.Background()

	start := time.Now()
	// Saturated producers for 5.05 seconds of simulated 100ms ticks.
	for i := 0; i <= 50; i++ {
		now := start.Add(time.Duration(i) * 100 * time.Millisecond)
		q.Frames.Offer(frame("f"))
		q.Status.Offer("running")
		q.Detections.Offer([]vision.Detection{})
		q.GPS.Offer(gps.Fix{Lat: 1, Lon: 2})
		s.Step(ctx, now)
	}

	assert.Len(t, p.frames, 11, "one frame per 0.5s")
	assert.Len(t, p.dets, 6, "one detection list per second")
	assert.Len(t, p.statuses, 2, "one status per 5s")
	assert.Len(t, p.fixes, 2, "one fix per 5s")
}

func TestSenderRetriesFailedItem(t *testing.T) {
	q := NewQueues()
	p := &recordingPusher{}
	s := NewSender(q, p, DefaultIntervals())
	ctx := context.Background()
	now := time.Now()

	p.setFail(errors.New("connection refused"))
	q.Status.Offer("Camera started, waiting for first frame...")
	s.Step(ctx, now)
	assert.Empty(t, p.statuses)

	// The pending item is retried on the next tick without waiting 5s.
	p.setFail(nil)
	s.Step(ctx, now.Add(100*time.Millisecond))
	require.Equal(t, []string{"Camera started, waiting for first frame..."}, p.statuses)

	// A newer item supersedes a pending one.
	p.setFail(ErrUnauthorized)
	later := now.Add(10 * time.Second)
	q.Status.Offer("old")
	s.Step(ctx, later)
	q.Status.Offer("new")
	p.setFail(nil)
	s.Step(ctx, later.Add(100*time.Millisecond))
	assert.Equal(t, "new", p.statuses[len(p.statuses)-1])
	assert.Len(t, p.statuses, 2)
}

func TestHTTPPusher(t *testing.T) {
	var mu sync.Mutex
	got := map[string][]byte{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.Header.Get(SecretHeader) != "s3cret" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got[r.URL.Path] = body
		mu.Unlock()
		if r.URL.Path == "/push/frame" && r.Header.Get("Content-Type") != "image/jpeg" {
			t.Errorf("Expected image/jpeg, got %s", r.Header.Get("Content-Type"))
		}
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	ctx := context.Background()
	p := NewHTTPPusher(server.URL+"/", "s3cret")

	require.NoError(t, p.PushFrame(ctx, []byte("jpeg")))
	require.NoError(t, p.PushStatus(ctx, "Running OK, 150 frames captured"))
	require.NoError(t, p.PushDetections(ctx, nil))
	speed := 12.5
	require.NoError(t, p.PushGPS(ctx, gps.Fix{Lat: 1.5, Lon: 2.5, Speed: &speed, Acquired: true}))

	assert.Equal(t, "jpeg", string(got["/push/frame"]))
	assert.JSONEq(t, `{"status":"Running OK, 150 frames captured"}`, string(got["/push/status"]))
	assert.JSONEq(t, `[]`, string(got["/push/ml"]))

	var fix map[string]any
	require.NoError(t, json.Unmarshal(got["/push/gps"], &fix))
	assert.Equal(t, 1.5, fix["lat"])
	assert.Equal(t, 2.5, fix["lon"])
	assert.Equal(t, 12.5, fix["speed"])

	bad := NewHTTPPusher(server.URL, "wrong")
	assert.ErrorIs(t, bad.PushStatus(ctx, "x"), ErrUnauthorized)
}

func TestHTTPPusherServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Too small", http.StatusBadRequest)
	}))
	defer server.Close()

	err := NewHTTPPusher(server.URL, "").PushFrame(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestSealOpen(t *testing.T) {
	msg := Seal("s3cret", []byte(`{"status":"ok"}`))

	payload, err := Open("s3cret", msg)
	require.NoError(t, err)
	assert.Equal(t, `{"status":"ok"}`, string(payload))

	_, err = Open("other", msg)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = Open("s3cret", []byte(`{"status":"ok"}`))
	assert.ErrorIs(t, err, ErrUnauthorized)

	tampered := append([]byte{}, msg...)
	tampered[len(tampered)-2] = 'X'
	_, err = Open("s3cret", tampered)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
