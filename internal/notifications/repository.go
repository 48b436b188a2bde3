// Package notifications provides notification dispatch, queueing and
// delivery tracking for incident changes.
package notifications

import (
	"context"
	"time"

	"github.com/opsrelay/incident-backend/internal/domain"
)

// Repository defines the interface for notifications data access.
type Repository interface {
	// Events
	//
	// InsertEvent persists a notification event keyed by its dedupe key.
	// Returns false without error when an event with the same dedupe key
	// already exists.
	InsertEvent(ctx context.Context, event *domain.NotificationEvent) (bool, error)
	GetEventByDedupeKey(ctx context.Context, dedupeKey string) (*domain.NotificationEvent, error)

	// Deliveries
	CreateDeliveries(ctx context.Context, deliveries []*Delivery) error
	ListDeliveries(ctx context.Context, eventID string) ([]Delivery, error)

	// FetchDueDeliveries claims up to limit pending deliveries whose
	// next attempt time has passed and marks them processing. Claimed
	// rows are invisible to concurrent workers.
	FetchDueDeliveries(ctx context.Context, limit int) ([]*Delivery, error)

	// RequeueStaleDeliveries resets processing rows untouched for
	// longer than olderThan back to pending, so claims orphaned by a
	// crashed worker re-enter the queue. Returns the number of rows
	// requeued.
	RequeueStaleDeliveries(ctx context.Context, olderThan time.Duration) (int64, error)
	MarkDeliverySent(ctx context.Context, id string) error
	MarkDeliveryFailed(ctx context.Context, id string, sendErr error) error
	MarkDeliveryForRetry(ctx context.Context, id string, sendErr error, nextAttempt time.Time) error

	// ResolveEventState recomputes an event's aggregate state from its
	// delivery rows and returns the resulting state. Terminal states are
	// never downgraded.
	ResolveEventState(ctx context.Context, eventID string) (domain.DeliveryState, error)

	GetQueueStats(ctx context.Context) (*QueueStats, error)

	// DeleteTerminalEventsBefore removes delivered and abandoned events
	// (with their deliveries) last updated before cutoff.
	DeleteTerminalEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DeliveryReceipt is the dispatch result for one notification event:
// the event record plus its per-recipient deliveries.
type DeliveryReceipt struct {
	Event      *domain.NotificationEvent `json:"event"`
	Deliveries []Delivery                `json:"deliveries"`
	// Deduplicated is true when the trigger collapsed onto an
	// already-existing event and no new deliveries were enqueued.
	Deduplicated bool `json:"deduplicated"`
}
