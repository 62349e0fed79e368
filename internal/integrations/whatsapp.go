package integrations

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// WhatsAppClient sends text messages through the WhatsApp Cloud API.
type WhatsAppClient struct {
	token         string
	phoneNumberID string
	baseURL       string
	client        *http.Client
}

func NewWhatsAppClient(token, phoneNumberID, baseURL string, timeout time.Duration) *WhatsAppClient {
	return &WhatsAppClient{
		token:         token,
		phoneNumberID: phoneNumberID,
		baseURL:       strings.TrimRight(baseURL, "/"),
		client:        newHTTPClient(timeout),
	}
}

func (c *WhatsAppClient) Configured() bool {
	return c != nil && c.token != "" && c.phoneNumberID != ""
}

// SendText sends body to the E.164 number to.
func (c *WhatsAppClient) SendText(ctx context.Context, to, body string) (*Delivery, error) {
	if !c.Configured() {
		return nil, &NotConfiguredError{Service: "whatsapp"}
	}

	req := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                strings.TrimPrefix(to, "+"),
		"type":              "text",
		"text":              map[string]any{"preview_url": false, "body": body},
	}
	var resp struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	status, err := postJSON(ctx, c.client, "whatsapp", url,
		map[string]string{"Authorization": "Bearer " + c.token}, req, &resp)
	if err != nil {
		return nil, err
	}

	d := &Delivery{Service: "whatsapp", StatusCode: status, Attempts: 1}
	if len(resp.Messages) > 0 {
		d.ID = resp.Messages[0].ID
	}
	log.Info().Str("message_id", d.ID).Msg("WhatsApp message accepted")
	return d, nil
}
