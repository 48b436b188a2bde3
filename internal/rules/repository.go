package rules

import (
	"context"

	"github.com/opsrelay/incident-backend/internal/domain"
)

// Repository defines the interface for alert rule data access.
type Repository interface {
	Create(ctx context.Context, rule *domain.AlertRule) error
	Get(ctx context.Context, id string) (*domain.AlertRule, error)
	List(ctx context.Context) ([]domain.AlertRule, error)
	ListEnabled(ctx context.Context) ([]domain.AlertRule, error)
	Update(ctx context.Context, rule *domain.AlertRule) error
	Delete(ctx context.Context, id string) error
}
