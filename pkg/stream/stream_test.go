package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RafhaelMaglunob/pistream-cloud/pkg/camera"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/cell"
)

func fastGenerator() (*Generator, *cell.Cell[*camera.Frame], *cell.Cell[*camera.Frame], *cell.Latch) {
	overlay, raw, ready := cell.New[*camera.Frame](), cell.New[*camera.Frame](), &cell.Latch{}
	g := NewGenerator(overlay, raw, ready)
	g.Poll = time.Millisecond
	g.FirstFrameWait = 50 * time.Millisecond
	g.MaxStalls = 20
	return g, overlay, raw, ready
}

func TestPart(t *testing.T) {
	assert.Equal(t, "--frame\r\nContent-Type: image/jpeg\r\n\r\nJPEG\r\n", string(Part([]byte("JPEG"))))
}

func TestFramesYieldsEachFrameOnce(t *testing.T) {
	g, overlay, raw, ready := fastGenerator()
	ready.Fire()
	raw.Set(&camera.Frame{Data: []byte("raw")})

	var parts []string
	for p := range g.Frames(context.Background()) {
		parts = append(parts, string(p))
		if len(parts) == 1 {
			overlay.Set(&camera.Frame{Data: []byte("overlay")})
		}
	}

	// Ends after MaxStalls polls without a new frame.
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0], "raw")
	assert.Contains(t, parts[1], "overlay")
}

func TestFramesStopsWhenConsumerStops(t *testing.T) {
	g, overlay, _, ready := fastGenerator()
	ready.Fire()
	overlay.Set(&camera.Frame{Data: []byte("a")})

	n := 0
	for range g.Frames(context.Background()) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestFramesWithoutAnyFrameEnds(t *testing.T) {
	g, _, _, _ := fastGenerator()
	done := make(chan int)
	go func() {
		n := 0
		for range g.Frames(context.Background()) {
			n++
		}
		done <- n
	}()
	select {
	case n := <-done:
		assert.Zero(t, n)
	case <-time.After(2 * time.Second):
		t.Fatal("generator did not give up")
	}
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g, overlay, _, ready := fastGenerator()
	ready.Fire()
	overlay.Set(&camera.Frame{Data: []byte("JPEGDATA")})

	router := gin.New()
	router.GET("/stream", g.Handler)
	router.GET("/snapshot.jpg", g.Snapshot)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stream", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ContentType, w.Header().Get("Content-Type"))
	assert.Equal(t, 1, strings.Count(w.Body.String(), "--frame\r\n"))
	assert.Contains(t, w.Body.String(), "JPEGDATA")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/snapshot.jpg", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "JPEGDATA", w.Body.String())
}

func TestSnapshotUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g, _, _, _ := fastGenerator()
	router := gin.New()
	router.GET("/snapshot.jpg", g.Snapshot)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/snapshot.jpg", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
