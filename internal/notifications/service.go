package notifications

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/opsrelay/incident-backend/internal/domain"
)

// IncidentSource loads incidents for ad hoc notifications.
type IncidentSource interface {
	Get(ctx context.Context, id string) (*domain.Incident, error)
}

// Service provides the notification API surface: ad hoc triggers,
// receipt lookup and queue introspection.
type Service struct {
	repo       Repository
	dispatcher *Dispatcher
	incidents  IncidentSource
}

// NewService creates a new notifications service.
func NewService(repo Repository, dispatcher *Dispatcher, incidents IncidentSource) *Service {
	return &Service{
		repo:       repo,
		dispatcher: dispatcher,
		incidents:  incidents,
	}
}

// AdHocInput contains data for a manually triggered notification.
type AdHocInput struct {
	IncidentID string
	Subject    string
	Message    string
	Channels   []domain.ChannelType
	Recipients []string
	// IdempotencyKey lets clients retry safely: two triggers with the
	// same key collapse onto one event. Empty means no deduplication.
	IdempotencyKey string
}

// NotifyAdHoc dispatches a notification outside rule evaluation. The
// incident must exist; channels and recipients come from the caller.
func (s *Service) NotifyAdHoc(ctx context.Context, input AdHocInput) (*DeliveryReceipt, error) {
	incident, err := s.incidents.Get(ctx, input.IncidentID)
	if err != nil {
		return nil, err
	}

	discriminator := input.IdempotencyKey
	if discriminator == "" {
		discriminator = uuid.NewString()
	}

	event := &domain.NotificationEvent{
		IncidentID: incident.ID,
		EventType:  domain.EventTypeAdHoc,
		Channels:   input.Channels,
		Recipients: input.Recipients,
		DedupeKey:  domain.DedupeKey(incident.ID, domain.EventTypeAdHoc, input.Subject, discriminator),
	}

	payload := NewAdHocPayload(incident, input.Subject, input.Message)

	receipt, err := s.dispatcher.Dispatch(ctx, event, payload)
	if err != nil {
		return nil, fmt.Errorf("dispatch ad hoc notification: %w", err)
	}
	return receipt, nil
}

// GetReceipt returns the delivery receipt for a dedupe key.
func (s *Service) GetReceipt(ctx context.Context, dedupeKey string) (*DeliveryReceipt, error) {
	event, err := s.repo.GetEventByDedupeKey(ctx, dedupeKey)
	if err != nil {
		return nil, err
	}

	deliveries, err := s.repo.ListDeliveries(ctx, event.ID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}

	return &DeliveryReceipt{Event: event, Deliveries: deliveries}, nil
}

// QueueStats returns delivery counts by status.
func (s *Service) QueueStats(ctx context.Context) (*QueueStats, error) {
	return s.repo.GetQueueStats(ctx)
}
