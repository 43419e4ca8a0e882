package detector

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetect(t *testing.T) {
	// Mock inference server
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "image/jpeg" {
			t.Errorf("Expected Content-Type image/jpeg, got %s", r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "jpeg-bytes" {
			t.Errorf("Expected frame body, got '%s'", string(body))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"detections":[{"box":[1,2,30,40],"label":"motor_crash","conf":0.97}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	dets, err := client.Detect(context.Background(), []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(dets) != 1 {
		t.Fatalf("Expected 1 detection, got %d", len(dets))
	}
	if dets[0].Label != "motor_crash" || dets[0].Confidence != 0.97 || dets[0].Box != [4]int{1, 2, 30, 40} {
		t.Errorf("Unexpected detection %+v", dets[0])
	}
}

func TestDetectEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	dets, err := NewClient(server.URL).Detect(context.Background(), []byte("x"))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if dets == nil || len(dets) != 0 {
		t.Errorf("Expected empty non-nil slice, got %v", dets)
	}
}

func TestDetectServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	if _, err := NewClient(server.URL).Detect(context.Background(), []byte("x")); err == nil {
		t.Error("Expected error for 503 response")
	}
}
