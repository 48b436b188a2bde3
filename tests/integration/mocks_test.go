//go:build integration

package integration

import (
	"context"
	"sync"
	"time"

	"github.com/opsrelay/incident-backend/internal/domain"
	"github.com/opsrelay/incident-backend/internal/notifications"
)

// SentNotification is one notification captured by MockSender.
type SentNotification struct {
	To          string
	Subject     string
	Body        string
	DedupeKey   string
	SentAt      time.Time
	ChannelType domain.ChannelType
}

// MockSender is a test implementation of notifications.Sender.
type MockSender struct {
	mu          sync.Mutex
	channelType domain.ChannelType
	sent        []SentNotification
	failErr     error
	failCount   int // remaining sends to fail before succeeding
}

// NewMockSender creates a mock sender for the given channel type.
func NewMockSender(channelType domain.ChannelType) *MockSender {
	return &MockSender{channelType: channelType}
}

// FailTimes makes the next n sends return err.
func (m *MockSender) FailTimes(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCount = n
	m.failErr = err
}

// Type returns the channel type.
func (m *MockSender) Type() domain.ChannelType {
	return m.channelType
}

// Send records the notification, or fails while failures remain armed.
func (m *MockSender) Send(_ context.Context, notification notifications.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failCount > 0 {
		m.failCount--
		return m.failErr
	}

	m.sent = append(m.sent, SentNotification{
		To:          notification.To,
		Subject:     notification.Subject,
		Body:        notification.Body,
		DedupeKey:   notification.DedupeKey,
		SentAt:      time.Now(),
		ChannelType: m.channelType,
	})
	return nil
}

// Sent returns a copy of the captured notifications.
func (m *MockSender) Sent() []SentNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentNotification, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentCount returns how many notifications were captured.
func (m *MockSender) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// SentTo returns the notifications captured for one recipient.
func (m *MockSender) SentTo(recipient string) []SentNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SentNotification
	for _, n := range m.sent {
		if n.To == recipient {
			out = append(out, n)
		}
	}
	return out
}
