package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// EventType identifies the incident change that triggered a notification.
type EventType string

// Event types.
const (
	EventTypeCreated         EventType = "created"
	EventTypeStatusChanged   EventType = "status_changed"
	EventTypeCommentAdded    EventType = "comment_added"
	EventTypeSeverityChanged EventType = "severity_changed"
	// EventTypeAdHoc marks notifications triggered directly through the
	// API, bypassing rule evaluation.
	EventTypeAdHoc EventType = "adhoc"
)

// IsValid checks if the event type is valid.
func (t EventType) IsValid() bool {
	switch t {
	case EventTypeCreated, EventTypeStatusChanged, EventTypeCommentAdded,
		EventTypeSeverityChanged, EventTypeAdHoc:
		return true
	}
	return false
}

// ChannelType represents a notification delivery channel.
type ChannelType string

// Channel types.
const (
	ChannelTypeEmail   ChannelType = "email"
	ChannelTypeSMS     ChannelType = "sms"
	ChannelTypeWebhook ChannelType = "webhook"
)

// IsValid checks if the channel type is valid.
func (c ChannelType) IsValid() bool {
	return c == ChannelTypeEmail || c == ChannelTypeSMS || c == ChannelTypeWebhook
}

// DeliveryState represents the overall delivery state of a notification
// event. It advances monotonically:
// pending -> delivered | failed -> delivered | abandoned.
type DeliveryState string

// Delivery states.
const (
	DeliveryStatePending   DeliveryState = "pending"
	DeliveryStateDelivered DeliveryState = "delivered"
	DeliveryStateFailed    DeliveryState = "failed"
	DeliveryStateAbandoned DeliveryState = "abandoned"
)

// IsTerminal reports whether no further state changes are possible.
func (s DeliveryState) IsTerminal() bool {
	return s == DeliveryStateDelivered || s == DeliveryStateAbandoned
}

// NotificationEvent is one logical notification produced by rule
// evaluation or an ad hoc trigger. Duplicate triggers collapse onto a
// single event through the dedupe key.
type NotificationEvent struct {
	ID         string        `json:"id"`
	IncidentID string        `json:"incident_id"`
	EventType  EventType     `json:"event_type"`
	Channels   []ChannelType `json:"channels"`
	Recipients []string      `json:"recipients"`
	DedupeKey  string        `json:"dedupe_key"`
	State      DeliveryState `json:"state"`
	Subject    string        `json:"subject"`
	Body       string        `json:"body"`
	RuleID     *string       `json:"rule_id,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// DedupeKey computes the deterministic fingerprint that collapses
// duplicate notification attempts into one logical delivery. The rule ID
// is part of the key so that independent rules matching the same change
// produce independent events; fieldValue captures the changed value
// (new status, new severity, comment id) so repeated changes of the same
// kind are distinguished.
func DedupeKey(incidentID string, eventType EventType, fieldValue, ruleID string) string {
	h := sha256.Sum256([]byte(strings.Join([]string{incidentID, string(eventType), fieldValue, ruleID}, "\x00")))
	return hex.EncodeToString(h[:])
}
