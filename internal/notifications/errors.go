package notifications

import "errors"

// Repository errors.
var (
	ErrEventNotFound    = errors.New("notification event not found")
	ErrDeliveryNotFound = errors.New("notification delivery not found")
)

// Dispatch errors.
var (
	ErrUnknownChannel = errors.New("no sender configured for channel type")
)
