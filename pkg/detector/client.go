// Package detector talks to the object detection service.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/RafhaelMaglunob/pistream-cloud/pkg/vision"
)

// Detector turns one encoded frame into a list of detections.
type Detector interface {
	Detect(ctx context.Context, jpeg []byte) ([]vision.Detection, error)
}

// Client posts JPEG frames to an HTTP inference endpoint and decodes the
// returned boxes.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// DetectResponse is the body returned by the inference endpoint.
type DetectResponse struct {
	Detections []vision.Detection `json:"detections"`
}

func (c *Client) Detect(ctx context.Context, jpeg []byte) ([]vision.Detection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(jpeg))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detector returned %s: %s", resp.Status, bytes.TrimSpace(body))
	}

	var out DetectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode detections: %w", err)
	}
	if out.Detections == nil {
		out.Detections = []vision.Detection{}
	}
	return out.Detections, nil
}

// Func adapts a function to the Detector interface.
type Func func(ctx context.Context, jpeg []byte) ([]vision.Detection, error)

func (f Func) Detect(ctx context.Context, jpeg []byte) ([]vision.Detection, error) {
	return f(ctx, jpeg)
}
