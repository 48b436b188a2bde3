package notifications

import (
	"context"

	"github.com/opsrelay/incident-backend/internal/domain"
)

// Notification is a single rendered message bound for one recipient.
type Notification struct {
	To        string
	Subject   string
	Body      string
	DedupeKey string
}

// Sender delivers notifications over one channel type.
type Sender interface {
	Type() domain.ChannelType
	Send(ctx context.Context, notification Notification) error
}
