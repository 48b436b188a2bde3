package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/opsrelay/incident-backend/internal/domain"
)

// memRepository implements Repository in memory for unit tests.
type memRepository struct {
	mu         sync.Mutex
	events     map[string]*domain.NotificationEvent // by ID
	byDedupe   map[string]string                    // dedupe key -> event ID
	deliveries map[string]*Delivery                 // by ID
}

func newMemRepository() *memRepository {
	return &memRepository{
		events:     make(map[string]*domain.NotificationEvent),
		byDedupe:   make(map[string]string),
		deliveries: make(map[string]*Delivery),
	}
}

func (m *memRepository) InsertEvent(ctx context.Context, event *domain.NotificationEvent) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byDedupe[event.DedupeKey]; exists {
		return false, nil
	}
	event.CreatedAt = time.Now()
	event.UpdatedAt = event.CreatedAt
	clone := *event
	m.events[event.ID] = &clone
	m.byDedupe[event.DedupeKey] = event.ID
	return true, nil
}

func (m *memRepository) GetEventByDedupeKey(_ context.Context, dedupeKey string) (*domain.NotificationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byDedupe[dedupeKey]
	if !ok {
		return nil, ErrEventNotFound
	}
	clone := *m.events[id]
	return &clone, nil
}

func (m *memRepository) CreateDeliveries(ctx context.Context, deliveries []*Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range deliveries {
		clone := *d
		m.deliveries[d.ID] = &clone
	}
	return nil
}

func (m *memRepository) ListDeliveries(_ context.Context, eventID string) ([]Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Delivery
	for _, d := range m.deliveries {
		if d.EventID == eventID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memRepository) FetchDueDeliveries(_ context.Context, limit int) ([]*Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []*Delivery
	for _, d := range m.deliveries {
		if len(out) >= limit {
			break
		}
		if d.Status == DeliveryStatusPending && !d.NextAttemptAt.After(now) {
			d.Status = DeliveryStatusProcessing
			d.UpdatedAt = now
			if event, ok := m.events[d.EventID]; ok {
				d.DedupeKey = event.DedupeKey
			}
			clone := *d
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *memRepository) MarkDeliverySent(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrDeliveryNotFound
	}
	now := time.Now()
	d.Status = DeliveryStatusSent
	d.Attempts++
	d.SentAt = &now
	d.UpdatedAt = now
	return nil
}

func (m *memRepository) MarkDeliveryFailed(ctx context.Context, id string, sendErr error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrDeliveryNotFound
	}
	d.Status = DeliveryStatusFailed
	d.Attempts++
	d.LastError = sendErr.Error()
	d.UpdatedAt = time.Now()
	return nil
}

func (m *memRepository) MarkDeliveryForRetry(ctx context.Context, id string, sendErr error, nextAttempt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrDeliveryNotFound
	}
	d.Status = DeliveryStatusPending
	d.Attempts++
	d.LastError = sendErr.Error()
	d.NextAttemptAt = nextAttempt
	d.UpdatedAt = time.Now()
	return nil
}

func (m *memRepository) RequeueStaleDeliveries(ctx context.Context, olderThan time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-olderThan)
	var requeued int64
	for _, d := range m.deliveries {
		if d.Status == DeliveryStatusProcessing && d.UpdatedAt.Before(cutoff) {
			d.Status = DeliveryStatusPending
			d.NextAttemptAt = now
			d.UpdatedAt = now
			requeued++
		}
	}
	return requeued, nil
}

func (m *memRepository) ResolveEventState(_ context.Context, eventID string) (domain.DeliveryState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	event, ok := m.events[eventID]
	if !ok {
		return "", ErrEventNotFound
	}
	if event.State.IsTerminal() {
		return event.State, nil
	}

	var sent, failed, total int
	for _, d := range m.deliveries {
		if d.EventID != eventID {
			continue
		}
		total++
		switch d.Status {
		case DeliveryStatusSent:
			sent++
		case DeliveryStatusFailed:
			failed++
		}
	}

	switch {
	case sent > 0:
		event.State = domain.DeliveryStateDelivered
	case total > 0 && failed == total:
		event.State = domain.DeliveryStateAbandoned
	case failed > 0:
		event.State = domain.DeliveryStateFailed
	default:
		event.State = domain.DeliveryStatePending
	}
	return event.State, nil
}

func (m *memRepository) GetQueueStats(_ context.Context) (*QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &QueueStats{}
	for _, d := range m.deliveries {
		switch d.Status {
		case DeliveryStatusPending:
			stats.Pending++
		case DeliveryStatusProcessing:
			stats.Processing++
		case DeliveryStatusSent:
			stats.Sent++
		case DeliveryStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (m *memRepository) DeleteTerminalEventsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, event := range m.events {
		if !event.State.IsTerminal() || !event.UpdatedAt.Before(cutoff) {
			continue
		}
		for did, d := range m.deliveries {
			if d.EventID == id {
				delete(m.deliveries, did)
			}
		}
		delete(m.byDedupe, event.DedupeKey)
		delete(m.events, id)
		deleted++
	}
	return deleted, nil
}

func (m *memRepository) delivery(id string) Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.deliveries[id]
}

// mockSender records sent notifications and fails on demand.
type mockSender struct {
	mu          sync.Mutex
	channelType domain.ChannelType
	sent        []Notification
	err         error
}

func newMockSender(channelType domain.ChannelType) *mockSender {
	return &mockSender{channelType: channelType}
}

func (s *mockSender) Type() domain.ChannelType {
	return s.channelType
}

func (s *mockSender) Send(_ context.Context, notification Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, notification)
	return nil
}

func (s *mockSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}
