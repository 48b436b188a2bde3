// Package postgres provides PostgreSQL implementation of the rules repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opsrelay/incident-backend/internal/domain"
	"github.com/opsrelay/incident-backend/internal/rules"
)

// Repository implements rules.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new alert rule.
func (r *Repository) Create(ctx context.Context, rule *domain.AlertRule) error {
	query := `
		INSERT INTO alert_rules (id, name, enabled, min_severity, event_types, keywords, channels, recipients)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		rule.ID,
		rule.Name,
		rule.Enabled,
		severityArg(rule.MinSeverity),
		eventTypeStrings(rule.EventTypes),
		rule.Keywords,
		channelStrings(rule.Channels),
		rule.Recipients,
	).Scan(&rule.CreatedAt, &rule.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

// Get retrieves a rule by ID.
func (r *Repository) Get(ctx context.Context, id string) (*domain.AlertRule, error) {
	query := `
		SELECT id, name, enabled, min_severity, event_types, keywords, channels, recipients, created_at, updated_at
		FROM alert_rules
		WHERE id = $1
	`
	rule, err := scanRule(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, rules.ErrRuleNotFound
		}
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return rule, nil
}

// List returns all rules, newest first.
func (r *Repository) List(ctx context.Context) ([]domain.AlertRule, error) {
	return r.list(ctx, `
		SELECT id, name, enabled, min_severity, event_types, keywords, channels, recipients, created_at, updated_at
		FROM alert_rules
		ORDER BY created_at DESC
	`)
}

// ListEnabled returns enabled rules for evaluation.
func (r *Repository) ListEnabled(ctx context.Context) ([]domain.AlertRule, error) {
	return r.list(ctx, `
		SELECT id, name, enabled, min_severity, event_types, keywords, channels, recipients, created_at, updated_at
		FROM alert_rules
		WHERE enabled
		ORDER BY created_at DESC
	`)
}

func (r *Repository) list(ctx context.Context, query string) ([]domain.AlertRule, error) {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	result := make([]domain.AlertRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		result = append(result, *rule)
	}

	return result, rows.Err()
}

// Update persists rule fields.
func (r *Repository) Update(ctx context.Context, rule *domain.AlertRule) error {
	query := `
		UPDATE alert_rules
		SET name = $2, enabled = $3, min_severity = $4, event_types = $5,
		    keywords = $6, channels = $7, recipients = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query,
		rule.ID,
		rule.Name,
		rule.Enabled,
		severityArg(rule.MinSeverity),
		eventTypeStrings(rule.EventTypes),
		rule.Keywords,
		channelStrings(rule.Channels),
		rule.Recipients,
	).Scan(&rule.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rules.ErrRuleNotFound
		}
		return fmt.Errorf("update rule: %w", err)
	}
	return nil
}

// Delete removes a rule.
func (r *Repository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM alert_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return rules.ErrRuleNotFound
	}
	return nil
}

func scanRule(row pgx.Row) (*domain.AlertRule, error) {
	var (
		rule        domain.AlertRule
		minSeverity *string
		eventTypes  []string
		channels    []string
	)
	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Enabled,
		&minSeverity,
		&eventTypes,
		&rule.Keywords,
		&channels,
		&rule.Recipients,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if minSeverity != nil {
		severity := domain.Severity(*minSeverity)
		rule.MinSeverity = &severity
	}
	for _, et := range eventTypes {
		rule.EventTypes = append(rule.EventTypes, domain.EventType(et))
	}
	for _, ch := range channels {
		rule.Channels = append(rule.Channels, domain.ChannelType(ch))
	}

	return &rule, nil
}

func severityArg(s *domain.Severity) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func eventTypeStrings(in []domain.EventType) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

func channelStrings(in []domain.ChannelType) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}
