package incidents

import (
	"errors"
	"fmt"

	"github.com/opsrelay/incident-backend/internal/domain"
)

// Repository and service errors.
var (
	ErrIncidentNotFound = errors.New("incident not found")
	// ErrVersionConflict is returned when an update is issued against a
	// stale version. The caller is expected to re-read and retry.
	ErrVersionConflict = errors.New("incident was modified concurrently")
	ErrIncidentClosed  = errors.New("incident is closed")
)

// InvalidTransitionError reports a requested edge outside the transition
// graph. The incident record is left unmodified.
type InvalidTransitionError struct {
	From domain.IncidentStatus
	To   domain.IncidentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %q to %q", e.From, e.To)
}

// Is allows errors.Is matching against ErrInvalidTransition.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ErrInvalidTransition is the sentinel for transition graph violations.
// Concrete errors carry the current and requested states.
var ErrInvalidTransition = errors.New("invalid status transition")
