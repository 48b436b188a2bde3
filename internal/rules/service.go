package rules

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/opsrelay/incident-backend/internal/domain"
)

// Service provides alert rule business logic.
type Service struct {
	repo Repository
}

// NewService creates a new rules service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateInput holds data for creating an alert rule.
type CreateInput struct {
	Name        string
	Enabled     bool
	MinSeverity *domain.Severity
	EventTypes  []domain.EventType
	Keywords    []string
	Channels    []domain.ChannelType
	Recipients  []string
}

// UpdateInput holds data for updating an alert rule. Nil fields are left
// unchanged.
type UpdateInput struct {
	Name        *string
	Enabled     *bool
	MinSeverity *domain.Severity
	EventTypes  []domain.EventType
	Keywords    []string
	Channels    []domain.ChannelType
	Recipients  []string
}

// Create validates and stores a new alert rule.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.AlertRule, error) {
	rule := &domain.AlertRule{
		ID:          uuid.NewString(),
		Name:        input.Name,
		Enabled:     input.Enabled,
		MinSeverity: input.MinSeverity,
		EventTypes:  input.EventTypes,
		Keywords:    input.Keywords,
		Channels:    input.Channels,
		Recipients:  input.Recipients,
	}

	if err := rule.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, rule); err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}
	return rule, nil
}

// Get retrieves a rule by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.AlertRule, error) {
	return s.repo.Get(ctx, id)
}

// List returns all rules.
func (s *Service) List(ctx context.Context) ([]domain.AlertRule, error) {
	return s.repo.List(ctx)
}

// ListEnabled returns all enabled rules, for evaluation.
func (s *Service) ListEnabled(ctx context.Context) ([]domain.AlertRule, error) {
	return s.repo.ListEnabled(ctx)
}

// Update applies a partial update to a rule. The resulting rule must
// still validate.
func (s *Service) Update(ctx context.Context, id string, input UpdateInput) (*domain.AlertRule, error) {
	rule, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		rule.Name = *input.Name
	}
	if input.Enabled != nil {
		rule.Enabled = *input.Enabled
	}
	if input.MinSeverity != nil {
		rule.MinSeverity = input.MinSeverity
	}
	if input.EventTypes != nil {
		rule.EventTypes = input.EventTypes
	}
	if input.Keywords != nil {
		rule.Keywords = input.Keywords
	}
	if input.Channels != nil {
		rule.Channels = input.Channels
	}
	if input.Recipients != nil {
		rule.Recipients = input.Recipients
	}

	if err := rule.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// Delete removes a rule.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}
