// Package enrich generates natural-language explanations for domain
// events through an OpenAI-compatible chat-completion API, with a
// templated fallback when the service fails or times out.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cultivate-labs/chainwatch/internal/domain"
)

const (
	defaultBaseURL     = "https://api.x.ai/v1"
	defaultModel       = "grok-2-latest"
	defaultTemperature = 0.7
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom API base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithModel sets the completion model.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		c.model = model
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Client is an HTTP client for a chat-completions endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient creates a completion client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	Model       string        `json:"model"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends one system/user prompt pair and returns the generated
// text. Failures are wrapped in domain.EnrichmentError so callers can
// take the fallback path.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	body, err := json.Marshal(chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Model:       c.model,
		Stream:      false,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &domain.EnrichmentError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &domain.EnrichmentError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &domain.EnrichmentError{
			Err: fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", &domain.EnrichmentError{Err: fmt.Errorf("decode response: %w", err)}
	}

	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return "", &domain.EnrichmentError{Err: fmt.Errorf("empty completion")}
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

// DefaultTimeout is the per-call enrichment deadline used when none is
// configured.
const DefaultTimeout = 30 * time.Second
