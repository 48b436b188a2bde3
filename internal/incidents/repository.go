// Package incidents provides the incident lifecycle: CRUD, the status
// state machine and the transition audit trail.
package incidents

import (
	"context"

	"github.com/opsrelay/incident-backend/internal/domain"
)

// Filter narrows incident listings.
type Filter struct {
	Status   *domain.IncidentStatus
	Severity *domain.Severity
	Assignee *string
	Tag      *string
	Limit    int
	Offset   int
}

// Repository defines the interface for incident data access. It is the
// only component touching durable incident state; all mutation goes
// through it.
type Repository interface {
	Create(ctx context.Context, incident *domain.Incident) error
	Get(ctx context.Context, id string) (*domain.Incident, error)
	List(ctx context.Context, filter Filter) ([]*domain.Incident, error)

	// Update persists the incident if the stored version still equals
	// expectedVersion, bumping the version and updated_at. A stale version
	// fails with ErrVersionConflict; an unknown id with ErrIncidentNotFound.
	Update(ctx context.Context, incident *domain.Incident, expectedVersion int) error

	// UpdateStatus applies a status change and appends the audit entry
	// atomically, under the same optimistic version check as Update.
	UpdateStatus(ctx context.Context, incident *domain.Incident, expectedVersion int, audit *domain.StatusTransition) error

	AddComment(ctx context.Context, comment *domain.Comment) error
	ListComments(ctx context.Context, incidentID string) ([]domain.Comment, error)

	AddAttachment(ctx context.Context, attachment *domain.Attachment) error
	ListAttachments(ctx context.Context, incidentID string) ([]domain.Attachment, error)

	ListTransitions(ctx context.Context, incidentID string) ([]domain.StatusTransition, error)
}
