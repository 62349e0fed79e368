// Package integrations provides the outbound side channels the admin agent
// can reach: transactional email, WhatsApp messaging, signed webhooks and
// table exports to S3-compatible storage.
//
// Every client reports a *NotConfiguredError when its credentials are absent,
// so tools fail with a readable message instead of a transport error.
package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Delivery describes one accepted outbound message.
type Delivery struct {
	Service    string `json:"service"`
	ID         string `json:"id,omitempty"`
	StatusCode int    `json:"status_code"`
	Attempts   int    `json:"attempts"`
}

// NotConfiguredError is returned by a client whose credentials are missing.
type NotConfiguredError struct {
	Service string
}

func (e *NotConfiguredError) Error() string {
	return e.Service + " not configured"
}

// UpstreamError is a non-2xx answer from a provider.
type UpstreamError struct {
	Service    string
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.Service, e.StatusCode)
}

// newHTTPClient returns the shared client shape used by every integration.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// postJSON sends body to url and decodes a 2xx JSON answer into out (if non-nil).
// Provider error bodies are logged, never returned.
func postJSON(ctx context.Context, client *http.Client, service, url string, headers map[string]string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal %s request: %w", service, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build %s request: %w", service, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s request failed: %w", service, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn().
			Str("service", service).
			Int("status", resp.StatusCode).
			Str("body", string(raw)).
			Msg("Integration request rejected")
		return resp.StatusCode, &UpstreamError{Service: service, StatusCode: resp.StatusCode}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			log.Warn().Err(err).Str("service", service).Msg("Unreadable integration response")
		}
	}
	return resp.StatusCode, nil
}
