package integrations

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// EmailMessage is one outbound email.
type EmailMessage struct {
	To      []string
	Subject string
	HTML    string
	Text    string
}

// EmailClient sends email through a Resend-compatible HTTP API.
type EmailClient struct {
	apiKey  string
	baseURL string
	from    string
	client  *http.Client
}

// NewEmailClient creates an email client. An empty apiKey or from address
// leaves it unconfigured.
func NewEmailClient(apiKey, baseURL, from string, timeout time.Duration) *EmailClient {
	return &EmailClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		from:    from,
		client:  newHTTPClient(timeout),
	}
}

// Configured reports whether credentials are present.
func (c *EmailClient) Configured() bool {
	return c != nil && c.apiKey != "" && c.from != ""
}

// Send delivers msg and returns the provider's message id.
func (c *EmailClient) Send(ctx context.Context, msg EmailMessage) (*Delivery, error) {
	if !c.Configured() {
		return nil, &NotConfiguredError{Service: "email"}
	}

	body := map[string]any{
		"from":    c.from,
		"to":      msg.To,
		"subject": msg.Subject,
	}
	if msg.HTML != "" {
		body["html"] = msg.HTML
	}
	if msg.Text != "" {
		body["text"] = msg.Text
	}

	var resp struct {
		ID string `json:"id"`
	}
	status, err := postJSON(ctx, c.client, "email", c.baseURL+"/emails",
		map[string]string{"Authorization": "Bearer " + c.apiKey}, body, &resp)
	if err != nil {
		return nil, err
	}

	log.Info().Str("message_id", resp.ID).Int("recipients", len(msg.To)).Msg("Email accepted")
	return &Delivery{Service: "email", ID: resp.ID, StatusCode: status, Attempts: 1}, nil
}
