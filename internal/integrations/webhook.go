package integrations

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	SignatureHeader = "X-AdminPilot-Signature"
	EventHeader     = "X-AdminPilot-Event"
	DeliveryHeader  = "X-AdminPilot-Delivery"
)

// WebhookEvent is the JSON envelope posted to webhook endpoints.
type WebhookEvent struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// WebhookClient posts events to HTTPS endpoints with optional HMAC-SHA256
// signing. Webhooks need no credentials, so the client is always configured.
type WebhookClient struct {
	secret   string
	client   *http.Client
	attempts int
	backoff  time.Duration
}

func NewWebhookClient(secret string, timeout time.Duration) *WebhookClient {
	return &WebhookClient{
		secret:   secret,
		client:   newHTTPClient(timeout),
		attempts: 3,
		backoff:  2 * time.Second,
	}
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Post sends the event with up to three attempts and linear backoff.
// Every attempt carries the same delivery id so receivers can de-duplicate.
func (c *WebhookClient) Post(ctx context.Context, url, event string, payload any) (*Delivery, error) {
	evt := WebhookEvent{
		ID:        uuid.NewString(),
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("webhook cancelled after %d attempts: %w", attempt-1, ctx.Err())
			case <-time.After(time.Duration(attempt-1) * c.backoff):
			}
		}

		status, err := c.send(ctx, url, evt, body)
		if err == nil {
			log.Info().Str("event", event).Str("delivery", evt.ID).Int("attempt", attempt).Msg("Webhook delivered")
			return &Delivery{Service: "webhook", ID: evt.ID, StatusCode: status, Attempts: attempt}, nil
		}
		lastErr = err
		// Client errors will not succeed on retry.
		if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
			break
		}
	}
	return nil, fmt.Errorf("webhook failed: %w", lastErr)
}

func (c *WebhookClient) send(ctx context.Context, url string, evt WebhookEvent, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "AdminPilot-Webhook/1.0")
	req.Header.Set(EventHeader, evt.Event)
	req.Header.Set(DeliveryHeader, evt.ID)
	if c.secret != "" {
		req.Header.Set(SignatureHeader, Sign(c.secret, body))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &UpstreamError{Service: "webhook", StatusCode: resp.StatusCode}
	}
	return resp.StatusCode, nil
}
