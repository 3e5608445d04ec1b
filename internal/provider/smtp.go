package provider

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	gomail "gopkg.in/gomail.v2"

	"github.com/ignite/keepup-email-engine/internal/pkg/logger"
)

// SMTPSender sends through a plain SMTP relay. SMTP has no provider
// message id, so one is generated locally for webhook correlation.
type SMTPSender struct {
	dialer *gomail.Dialer
}

// NewSMTPSender creates an SMTP sender.
func NewSMTPSender(host string, port int, username, password string) *SMTPSender {
	if port == 0 {
		port = 587
	}
	return &SMTPSender{dialer: gomail.NewDialer(host, port, username, password)}
}

// Name implements Sender.
func (s *SMTPSender) Name() string { return "smtp" }

// Send delivers one message.
func (s *SMTPSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", msg.FromEmail, msg.FromName)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	for k, v := range msg.Headers {
		m.SetHeader(k, v)
	}
	if msg.Text != "" {
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	} else {
		m.SetBody("text/html", msg.HTML)
	}

	if err := s.dialer.DialAndSend(m); err != nil {
		return &Result{Success: false, Provider: s.Name(), Error: fmt.Sprintf("smtp: %v", err)}, nil
	}

	messageID := uuid.New().String()
	log.Printf("[SMTP] Sent to %s (id: %s)", logger.RedactEmail(msg.To), messageID)
	return &Result{Success: true, MessageID: messageID, Provider: s.Name(), SentAt: time.Now()}, nil
}
