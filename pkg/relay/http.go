package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/RafhaelMaglunob/pistream-cloud/pkg/gps"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/vision"
)

// ErrUnauthorized means the collector rejected the shared secret.
var ErrUnauthorized = errors.New("collector rejected push secret")

// SecretHeader carries the shared push secret.
const SecretHeader = "X-Secret"

// HTTPPusher posts to the collector's /push endpoints.
type HTTPPusher struct {
	BaseURL    string
	Secret     string
	HTTPClient *http.Client
}

func NewHTTPPusher(baseURL, secret string) *HTTPPusher {
	return &HTTPPusher{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Secret:     secret,
		HTTPClient: &http.Client{},
	}
}

type statusPayload struct {
	Status string `json:"status"`
}

func (p *HTTPPusher) PushFrame(ctx context.Context, jpeg []byte) error {
	return p.post(ctx, "/push/frame", "image/jpeg", jpeg)
}

func (p *HTTPPusher) PushDetections(ctx context.Context, dets []vision.Detection) error {
	if dets == nil {
		dets = []vision.Detection{}
	}
	return p.postJSON(ctx, "/push/ml", dets)
}

func (p *HTTPPusher) PushStatus(ctx context.Context, status string) error {
	return p.postJSON(ctx, "/push/status", statusPayload{Status: status})
}

func (p *HTTPPusher) PushGPS(ctx context.Context, fix gps.Fix) error {
	return p.postJSON(ctx, "/push/gps", fix)
}

func (p *HTTPPusher) postJSON(ctx context.Context, path string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.post(ctx, path, "application/json", body)
}

func (p *HTTPPusher) post(ctx context.Context, path, contentType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(SecretHeader, p.Secret)

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode >= 300:
		return fmt.Errorf("push %s: unexpected status %s", path, resp.Status)
	}
	return nil
}
