package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opsrelay/incident-backend/internal/domain"
)

// Dispatcher turns notification events into queued deliveries. Dispatch
// is idempotent on the event's dedupe key: a duplicate trigger returns
// the existing receipt and enqueues nothing.
type Dispatcher struct {
	repo        Repository
	renderer    *Renderer
	senders     map[domain.ChannelType]Sender
	maxAttempts int
}

// NewDispatcher creates a new notification dispatcher.
func NewDispatcher(repo Repository, renderer *Renderer, maxAttempts int, senders ...Sender) *Dispatcher {
	senderMap := make(map[domain.ChannelType]Sender)
	for _, s := range senders {
		senderMap[s.Type()] = s
	}
	return &Dispatcher{
		repo:        repo,
		renderer:    renderer,
		senders:     senderMap,
		maxAttempts: maxAttempts,
	}
}

// Dispatch persists the event and fans it out into one delivery per
// (channel, recipient) pair. Messages are rendered per channel up front
// so the queue worker only has to send.
func (d *Dispatcher) Dispatch(ctx context.Context, event *domain.NotificationEvent, payload NotificationPayload) (*DeliveryReceipt, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.State == "" {
		event.State = domain.DeliveryStatePending
	}

	// Render once per channel before touching the queue so a broken
	// template fails the dispatch, not individual deliveries later.
	messages := make(map[domain.ChannelType]renderedMessage, len(event.Channels))
	for _, channel := range event.Channels {
		subject, body, err := d.renderer.Render(channel, payload)
		if err != nil {
			return nil, fmt.Errorf("render %s message: %w", channel, err)
		}
		messages[channel] = renderedMessage{subject: subject, body: body}
	}

	// The event record keeps one human-readable copy for receipts.
	if msg, ok := messages[domain.ChannelTypeEmail]; ok {
		event.Subject, event.Body = msg.subject, msg.body
	} else {
		for _, msg := range messages {
			event.Subject, event.Body = msg.subject, msg.body
			break
		}
	}

	inserted, err := d.repo.InsertEvent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}

	if !inserted {
		existing, err := d.repo.GetEventByDedupeKey(ctx, event.DedupeKey)
		if err != nil {
			return nil, fmt.Errorf("load deduplicated event: %w", err)
		}
		deliveries, err := d.repo.ListDeliveries(ctx, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("list deliveries: %w", err)
		}

		// A pending event with no delivery rows means an earlier
		// dispatch died between the event insert and the enqueue. The
		// retry that lands here must finish that work, or the
		// notification is gone for good.
		if existing.State == domain.DeliveryStatePending && len(deliveries) == 0 {
			repaired := d.buildDeliveries(existing, messages)
			if err := d.repo.CreateDeliveries(ctx, repaired); err != nil {
				return nil, fmt.Errorf("enqueue deliveries: %w", err)
			}
			recordEventDispatched(string(event.EventType), "repaired")
			slog.Warn("re-enqueued deliveries for orphaned event",
				"dedupe_key", event.DedupeKey,
				"event_id", existing.ID,
				"delivery_count", len(repaired),
			)
			out := make([]Delivery, len(repaired))
			for i, del := range repaired {
				out[i] = *del
			}
			return &DeliveryReceipt{Event: existing, Deliveries: out, Deduplicated: true}, nil
		}

		recordEventDispatched(string(event.EventType), "deduplicated")
		slog.Debug("duplicate notification suppressed",
			"dedupe_key", event.DedupeKey,
			"event_id", existing.ID,
		)
		return &DeliveryReceipt{Event: existing, Deliveries: deliveries, Deduplicated: true}, nil
	}

	deliveries := d.buildDeliveries(event, messages)
	if err := d.repo.CreateDeliveries(ctx, deliveries); err != nil {
		return nil, fmt.Errorf("enqueue deliveries: %w", err)
	}

	recordEventDispatched(string(event.EventType), "enqueued")
	slog.Info("notification event enqueued",
		"event_id", event.ID,
		"incident_id", event.IncidentID,
		"event_type", event.EventType,
		"delivery_count", len(deliveries),
	)

	out := make([]Delivery, len(deliveries))
	for i, del := range deliveries {
		out[i] = *del
	}
	return &DeliveryReceipt{Event: event, Deliveries: out}, nil
}

type renderedMessage struct {
	subject string
	body    string
}

// buildDeliveries fans an event out into one pending delivery per
// (channel, recipient) pair using the pre-rendered messages.
func (d *Dispatcher) buildDeliveries(event *domain.NotificationEvent, messages map[domain.ChannelType]renderedMessage) []*Delivery {
	now := time.Now()
	deliveries := make([]*Delivery, 0, len(event.Channels)*len(event.Recipients))
	for _, channel := range event.Channels {
		msg := messages[channel]
		for _, recipient := range event.Recipients {
			deliveries = append(deliveries, &Delivery{
				ID:            uuid.NewString(),
				EventID:       event.ID,
				Channel:       channel,
				Recipient:     recipient,
				Subject:       msg.subject,
				Body:          msg.body,
				Status:        DeliveryStatusPending,
				MaxAttempts:   d.maxAttempts,
				NextAttemptAt: now,
			})
		}
	}
	return deliveries
}

// SendToChannel sends a single notification through the sender
// registered for the channel type.
func (d *Dispatcher) SendToChannel(ctx context.Context, channelType domain.ChannelType, notification Notification) error {
	sender, ok := d.senders[channelType]
	if !ok {
		// A missing sender never resolves between attempts.
		return NewNonRetryableError(fmt.Errorf("%w: %s", ErrUnknownChannel, channelType))
	}
	return sender.Send(ctx, notification)
}
