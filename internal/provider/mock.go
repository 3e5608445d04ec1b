package provider

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockSender records messages for tests and local runs.
type MockSender struct {
	mu       sync.Mutex
	Sent     []*Message
	FailWith string // non-empty makes every send come back refused
	Err      error  // non-nil makes every send error out
}

// NewMockSender creates a mock sender.
func NewMockSender() *MockSender {
	return &MockSender{}
}

// Name implements Sender.
func (m *MockSender) Name() string { return "mock" }

// Send implements Sender.
func (m *MockSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	m.Sent = append(m.Sent, msg)
	m.mu.Unlock()

	if m.FailWith != "" {
		return &Result{Success: false, Provider: m.Name(), Error: m.FailWith}, nil
	}
	return &Result{Success: true, MessageID: uuid.New().String(), Provider: m.Name(), SentAt: time.Now()}, nil
}

// SentCount returns how many messages went through.
func (m *MockSender) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}
