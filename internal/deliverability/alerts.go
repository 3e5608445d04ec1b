package deliverability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/keepup-email-engine/internal/pkg/httpretry"
	"github.com/ignite/keepup-email-engine/internal/pkg/logger"
)

// Alerter notifies operators. Alerts are best effort everywhere they
// are used; a failed alert never blocks a protective action.
type Alerter interface {
	Alert(ctx context.Context, title, text string, fields map[string]any) error
}

// WebhookAlerter posts Slack-style JSON payloads to a webhook.
type WebhookAlerter struct {
	url     string
	channel string
	client  httpretry.HTTPDoer
}

// NewWebhookAlerter creates an alerter; an empty URL disables it.
func NewWebhookAlerter(url, channel string) *WebhookAlerter {
	return &WebhookAlerter{
		url:     url,
		channel: channel,
		client:  httpretry.NewRetryClient(&http.Client{Timeout: 10 * time.Second}, 2),
	}
}

// Alert implements Alerter.
func (a *WebhookAlerter) Alert(ctx context.Context, title, text string, fields map[string]any) error {
	if a.url == "" {
		return nil
	}

	var details bytes.Buffer
	for k, v := range fields {
		fmt.Fprintf(&details, "\n- %s: %v", k, v)
	}
	payload := map[string]any{
		"text": fmt.Sprintf("*%s*\n%s%s", title, text, details.String()),
	}
	if a.channel != "" {
		payload["channel"] = a.channel
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("alert: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alert: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("alert: post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("alert: webhook returned %d", resp.StatusCode)
	}
	logger.Debug("admin alert delivered", "title", title)
	return nil
}
