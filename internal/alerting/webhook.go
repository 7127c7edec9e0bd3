package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const webhookTimeout = 15 * time.Second

// WebhookChannel delivers alerts as JSON POSTs to a configured endpoint.
type WebhookChannel struct {
	name    string
	url     string
	headers map[string]string
	enabled bool
	client  *http.Client
}

// NewWebhookChannel builds a webhook channel. Extra headers are sent on
// every request, e.g. an Authorization token.
func NewWebhookChannel(name, url string, headers map[string]string, enabled bool) *WebhookChannel {
	return &WebhookChannel{
		name:    name,
		url:     url,
		headers: headers,
		enabled: enabled,
		client: &http.Client{
			Timeout: webhookTimeout,
		},
	}
}

func (c *WebhookChannel) Name() string {
	return c.name
}

func (c *WebhookChannel) Enabled() bool {
	return c.enabled && c.url != ""
}

func (c *WebhookChannel) Send(ctx context.Context, alert Payload) error {
	return c.post(ctx, map[string]any{
		"type":  "alert",
		"alert": alert,
	})
}

// SendBatch posts the aggregate as one request instead of per-alert posts.
func (c *WebhookChannel) SendBatch(ctx context.Context, aggregate Aggregated) error {
	return c.post(ctx, map[string]any{
		"type":      "aggregate",
		"aggregate": aggregate,
	})
}

func (c *WebhookChannel) post(ctx context.Context, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook %s: %w", c.name, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned status %d", c.name, resp.StatusCode)
	}
	return nil
}
