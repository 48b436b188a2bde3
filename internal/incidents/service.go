package incidents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opsrelay/incident-backend/internal/domain"
)

// Notifier receives lifecycle hooks after incident mutations have been
// persisted. Implementations must not fail the triggering request: a
// failed notification never invalidates a successful incident update.
type Notifier interface {
	OnIncidentCreated(ctx context.Context, incident *domain.Incident)
	OnStatusChanged(ctx context.Context, incident *domain.Incident, from, to domain.IncidentStatus)
	OnSeverityChanged(ctx context.Context, incident *domain.Incident, from, to domain.Severity)
	OnCommentAdded(ctx context.Context, incident *domain.Incident, comment *domain.Comment)
}

// Service implements incident business logic.
type Service struct {
	repo     Repository
	notifier Notifier
	now      func() time.Time
}

// NewService creates a new incident service. notifier may be nil when
// notifications are disabled.
func NewService(repo Repository, notifier Notifier) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		now:      time.Now,
	}
}

// CreateInput holds data for creating an incident.
type CreateInput struct {
	Title       string
	Description string
	Severity    domain.Severity
	Assignee    *string
	Tags        []string
}

// UpdateInput holds data for updating incident fields. Nil fields are
// left unchanged. Version is the caller's last-known version; zero skips
// the staleness check and applies against the current version.
type UpdateInput struct {
	Title       *string
	Description *string
	Severity    *domain.Severity
	Assignee    *string
	Tags        []string
	Version     int
}

// Create creates a new incident in the open state.
func (s *Service) Create(ctx context.Context, input CreateInput, actor string) (*domain.Incident, error) {
	if !input.Severity.IsValid() {
		return nil, fmt.Errorf("invalid severity: %s", input.Severity)
	}

	incident := &domain.Incident{
		ID:          uuid.NewString(),
		Title:       input.Title,
		Description: input.Description,
		Severity:    input.Severity,
		Status:      domain.IncidentStatusOpen,
		Assignee:    input.Assignee,
		ReportedBy:  actor,
		Tags:        input.Tags,
	}

	if err := s.repo.Create(ctx, incident); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	if s.notifier != nil {
		s.notifier.OnIncidentCreated(ctx, incident)
	}

	return incident, nil
}

// Get retrieves an incident by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.Incident, error) {
	return s.repo.Get(ctx, id)
}

// List retrieves incidents matching the filter.
func (s *Service) List(ctx context.Context, filter Filter) ([]*domain.Incident, error) {
	return s.repo.List(ctx, filter)
}

// Update applies a field update under the optimistic version check.
// A severity change triggers notification rule evaluation.
func (s *Service) Update(ctx context.Context, id string, input UpdateInput) (*domain.Incident, error) {
	incident, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if incident.Status.IsTerminal() {
		return nil, ErrIncidentClosed
	}

	expectedVersion := input.Version
	if expectedVersion == 0 {
		expectedVersion = incident.Version
	}

	oldSeverity := incident.Severity

	if input.Title != nil {
		incident.Title = *input.Title
	}
	if input.Description != nil {
		incident.Description = *input.Description
	}
	if input.Severity != nil {
		if !input.Severity.IsValid() {
			return nil, fmt.Errorf("invalid severity: %s", *input.Severity)
		}
		incident.Severity = *input.Severity
	}
	if input.Assignee != nil {
		incident.Assignee = input.Assignee
	}
	if input.Tags != nil {
		incident.Tags = input.Tags
	}

	if err := s.repo.Update(ctx, incident, expectedVersion); err != nil {
		return nil, err
	}

	if s.notifier != nil && incident.Severity != oldSeverity {
		s.notifier.OnSeverityChanged(ctx, incident, oldSeverity, incident.Severity)
	}

	return incident, nil
}

// Transition applies a status transition. The edge must exist in the
// lifecycle graph; the audit entry is appended atomically with the
// status change. version is the caller's last-known version (zero
// applies against the current one).
func (s *Service) Transition(ctx context.Context, id string, to domain.IncidentStatus, version int, actor string) (*domain.Incident, error) {
	if !to.IsValid() {
		return nil, fmt.Errorf("invalid status: %s", to)
	}

	incident, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := incident.Status
	if !CanTransition(from, to) {
		return nil, &InvalidTransitionError{From: from, To: to}
	}

	expectedVersion := version
	if expectedVersion == 0 {
		expectedVersion = incident.Version
	}

	incident.Status = to
	switch to {
	case domain.IncidentStatusResolved:
		now := s.now().UTC()
		incident.ResolvedAt = &now
	case domain.IncidentStatusOpen, domain.IncidentStatusInProgress:
		incident.ResolvedAt = nil
	}

	audit := &domain.StatusTransition{
		ID:         uuid.NewString(),
		IncidentID: incident.ID,
		From:       from,
		To:         to,
		Actor:      actor,
	}

	if err := s.repo.UpdateStatus(ctx, incident, expectedVersion, audit); err != nil {
		return nil, err
	}

	slog.Info("incident transitioned",
		"incident_id", incident.ID,
		"from", from,
		"to", to,
		"actor", actor,
	)

	if s.notifier != nil {
		s.notifier.OnStatusChanged(ctx, incident, from, to)
	}

	return incident, nil
}

// AddComment appends a comment to an incident. Comments are append-only.
func (s *Service) AddComment(ctx context.Context, incidentID, text, author string) (*domain.Comment, error) {
	incident, err := s.repo.Get(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	comment := &domain.Comment{
		ID:         uuid.NewString(),
		IncidentID: incident.ID,
		Author:     author,
		Text:       text,
	}

	if err := s.repo.AddComment(ctx, comment); err != nil {
		return nil, fmt.Errorf("add comment: %w", err)
	}

	if s.notifier != nil {
		s.notifier.OnCommentAdded(ctx, incident, comment)
	}

	return comment, nil
}

// ListComments returns the comments of an incident in append order.
func (s *Service) ListComments(ctx context.Context, incidentID string) ([]domain.Comment, error) {
	if _, err := s.repo.Get(ctx, incidentID); err != nil {
		return nil, err
	}
	return s.repo.ListComments(ctx, incidentID)
}

// AddAttachment registers an object-store key on an incident.
func (s *Service) AddAttachment(ctx context.Context, incidentID, objectKey, fileName string) (*domain.Attachment, error) {
	if _, err := s.repo.Get(ctx, incidentID); err != nil {
		return nil, err
	}

	attachment := &domain.Attachment{
		ID:         uuid.NewString(),
		IncidentID: incidentID,
		ObjectKey:  objectKey,
		FileName:   fileName,
	}

	if err := s.repo.AddAttachment(ctx, attachment); err != nil {
		return nil, fmt.Errorf("add attachment: %w", err)
	}

	return attachment, nil
}

// ListAttachments returns the attachment references of an incident.
func (s *Service) ListAttachments(ctx context.Context, incidentID string) ([]domain.Attachment, error) {
	if _, err := s.repo.Get(ctx, incidentID); err != nil {
		return nil, err
	}
	return s.repo.ListAttachments(ctx, incidentID)
}

// ListTransitions returns the status transition audit trail.
func (s *Service) ListTransitions(ctx context.Context, incidentID string) ([]domain.StatusTransition, error) {
	if _, err := s.repo.Get(ctx, incidentID); err != nil {
		return nil, err
	}
	return s.repo.ListTransitions(ctx, incidentID)
}
