package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/ignite/keepup-email-engine/internal/pkg/httpretry"
	"github.com/ignite/keepup-email-engine/internal/pkg/logger"
)

// SendGridSender sends via the SendGrid v3 Mail Send API.
type SendGridSender struct {
	apiKey  string
	baseURL string
	client  httpretry.HTTPDoer
}

// NewSendGridSender creates a SendGrid sender. Requests retry on 429
// and 5xx through the shared retry client.
func NewSendGridSender(apiKey, baseURL string, timeout time.Duration) *SendGridSender {
	if baseURL == "" {
		baseURL = "https://api.sendgrid.com"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SendGridSender{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 3),
	}
}

// Name implements Sender.
func (s *SendGridSender) Name() string { return "sendgrid" }

// Send delivers one message.
func (s *SendGridSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("sendgrid: API key not configured")
	}

	content := []map[string]string{}
	if msg.Text != "" {
		content = append(content, map[string]string{"type": "text/plain", "value": msg.Text})
	}
	content = append(content, map[string]string{"type": "text/html", "value": msg.HTML})

	payload := map[string]any{
		"personalizations": []map[string]any{
			{
				"to":          []map[string]string{{"email": msg.To}},
				"custom_args": map[string]string{"job_id": msg.JobID, "company_id": msg.CompanyID},
			},
		},
		"from":    map[string]string{"email": msg.FromEmail, "name": msg.FromName},
		"subject": msg.Subject,
		"content": content,
		"tracking_settings": map[string]any{
			"click_tracking": map[string]bool{"enable": true},
			"open_tracking":  map[string]bool{"enable": true},
		},
	}
	if msg.ReplyTo != "" {
		payload["reply_to"] = map[string]string{"email": msg.ReplyTo}
	}
	if len(msg.Headers) > 0 {
		payload["headers"] = msg.Headers
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("sendgrid: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/mail/send", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("sendgrid: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(jsonData)), nil
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sendgrid: send: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return &Result{
			Success:  false,
			Provider: s.Name(),
			Error:    fmt.Sprintf("sendgrid error %d: %s", resp.StatusCode, string(body)),
		}, nil
	}

	messageID := resp.Header.Get("X-Message-Id")
	log.Printf("[SendGrid] Sent to %s (id: %s)", logger.RedactEmail(msg.To), messageID)
	return &Result{Success: true, MessageID: messageID, Provider: s.Name(), SentAt: time.Now()}, nil
}
