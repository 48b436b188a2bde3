package notifications

import (
	"time"

	"github.com/opsrelay/incident-backend/internal/domain"
)

// DeliveryStatus represents the status of a single delivery attempt row.
type DeliveryStatus string

// Delivery statuses.
const (
	DeliveryStatusPending    DeliveryStatus = "pending"
	DeliveryStatusProcessing DeliveryStatus = "processing"
	DeliveryStatusSent       DeliveryStatus = "sent"
	DeliveryStatusFailed     DeliveryStatus = "failed"
)

// Delivery is one queued send: a notification event fanned out to a
// single (channel, recipient) pair. Retries operate on deliveries, never
// on whole events.
type Delivery struct {
	ID            string             `json:"id"`
	EventID       string             `json:"event_id"`
	Channel       domain.ChannelType `json:"channel"`
	Recipient     string             `json:"recipient"`
	Subject       string             `json:"subject"`
	Body          string             `json:"body"`
	Status        DeliveryStatus     `json:"status"`
	Attempts      int                `json:"attempts"`
	MaxAttempts   int                `json:"max_attempts"`
	NextAttemptAt time.Time          `json:"next_attempt_at"`
	LastError     string             `json:"last_error,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	SentAt        *time.Time         `json:"sent_at,omitempty"`

	// DedupeKey is the owning event's dedupe key, populated when the
	// worker claims the delivery. It rides along to senders that expose
	// it to receivers (webhooks).
	DedupeKey string `json:"-"`
}

// QueueStats holds delivery counts by status.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
}
