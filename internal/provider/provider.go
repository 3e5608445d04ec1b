// Package provider abstracts the outbound email services. The worker
// talks to a Sender; the concrete implementations cover SendGrid's v3
// API, AWS SES and a plain SMTP relay.
package provider

import (
	"context"
	"time"
)

// Message is one fully rendered email ready to send.
type Message struct {
	JobID     string
	CompanyID string
	To        string
	FromName  string
	FromEmail string
	ReplyTo   string
	Subject   string
	HTML      string
	Text      string
	Headers   map[string]string
}

// Result reports one send attempt. Provider rejections come back as a
// Result with Success=false; transport errors are returned as Go
// errors so the caller can tell an HTTP failure from a refusal.
type Result struct {
	Success   bool
	MessageID string
	Provider  string
	Error     string
	SentAt    time.Time
}

// Sender delivers a single message.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg *Message) (*Result, error)
}
