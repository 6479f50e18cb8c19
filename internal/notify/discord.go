package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cultivate-labs/chainwatch/internal/domain"
)

const defaultUsername = "Chainwatch Monitor"

// WebhookOption configures the webhook channel.
type WebhookOption func(*Webhook)

// WithUsername overrides the webhook display name.
func WithUsername(name string) WebhookOption {
	return func(w *Webhook) {
		w.username = name
	}
}

// WithWebhookHTTPClient sets a custom HTTP client.
func WithWebhookHTTPClient(httpClient *http.Client) WebhookOption {
	return func(w *Webhook) {
		w.httpClient = httpClient
	}
}

// Webhook delivers notifications to a Discord webhook URL.
type Webhook struct {
	url        string
	username   string
	httpClient *http.Client
}

var _ Channel = (*Webhook)(nil)

// NewWebhook creates a Discord webhook channel.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		username:   defaultUsername,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type webhookPayload struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

// Deliver posts content to the webhook. Non-2xx responses and transport
// failures come back as *domain.DeliveryError.
func (w *Webhook) Deliver(ctx context.Context, content string) error {
	body, err := json.Marshal(webhookPayload{Content: content, Username: w.username})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return &domain.DeliveryError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &domain.DeliveryError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("webhook rejected delivery: %s", string(body)),
		}
	}
	return nil
}
