// Package postgres provides PostgreSQL implementation of the incidents repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opsrelay/incident-backend/internal/domain"
	"github.com/opsrelay/incident-backend/internal/incidents"
)

// Repository implements incidents.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const incidentColumns = `
	id, title, description, severity, status, assignee, reported_by,
	tags, version, created_at, updated_at, resolved_at
`

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var incident domain.Incident
	err := row.Scan(
		&incident.ID,
		&incident.Title,
		&incident.Description,
		&incident.Severity,
		&incident.Status,
		&incident.Assignee,
		&incident.ReportedBy,
		&incident.Tags,
		&incident.Version,
		&incident.CreatedAt,
		&incident.UpdatedAt,
		&incident.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &incident, nil
}

// Create inserts a new incident at version 1.
func (r *Repository) Create(ctx context.Context, incident *domain.Incident) error {
	query := `
		INSERT INTO incidents (id, title, description, severity, status, assignee, reported_by, tags, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
		RETURNING version, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		incident.ID,
		incident.Title,
		incident.Description,
		incident.Severity,
		incident.Status,
		incident.Assignee,
		incident.ReportedBy,
		incident.Tags,
	).Scan(&incident.Version, &incident.CreatedAt, &incident.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

// Get retrieves an incident by ID.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`

	incident, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return incident, nil
}

// List retrieves incidents matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter incidents.Filter) ([]*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	args := make([]any, 0, 6)

	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.Severity != nil {
		args = append(args, *filter.Severity)
		query += ` AND severity = $` + strconv.Itoa(len(args))
	}
	if filter.Assignee != nil {
		args = append(args, *filter.Assignee)
		query += ` AND assignee = $` + strconv.Itoa(len(args))
	}
	if filter.Tag != nil {
		args = append(args, *filter.Tag)
		query += ` AND $` + strconv.Itoa(len(args)) + ` = ANY(tags)`
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.Incident, 0)
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		result = append(result, incident)
	}

	return result, rows.Err()
}

// Update persists incident fields if the stored version still matches
// expectedVersion. The version is bumped and updated_at refreshed in the
// same statement, so two concurrent updates against the same version
// cannot both succeed.
func (r *Repository) Update(ctx context.Context, incident *domain.Incident, expectedVersion int) error {
	query := `
		UPDATE incidents
		SET title = $3, description = $4, severity = $5, assignee = $6, tags = $7,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		incident.ID,
		expectedVersion,
		incident.Title,
		incident.Description,
		incident.Severity,
		incident.Assignee,
		incident.Tags,
	).Scan(&incident.Version, &incident.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.conflictOrNotFound(ctx, incident.ID)
		}
		return fmt.Errorf("update incident: %w", err)
	}
	return nil
}

// UpdateStatus applies a status change and appends the audit entry in a
// single transaction, under the same optimistic version check as Update.
func (r *Repository) UpdateStatus(ctx context.Context, incident *domain.Incident, expectedVersion int, audit *domain.StatusTransition) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	query := `
		UPDATE incidents
		SET status = $3, resolved_at = $4, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`
	err = tx.QueryRow(ctx, query,
		incident.ID,
		expectedVersion,
		incident.Status,
		incident.ResolvedAt,
	).Scan(&incident.Version, &incident.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.conflictOrNotFound(ctx, incident.ID)
		}
		return fmt.Errorf("update status: %w", err)
	}

	auditQuery := `
		INSERT INTO incident_transitions (id, incident_id, from_status, to_status, actor)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, auditQuery,
		audit.ID,
		audit.IncidentID,
		audit.From,
		audit.To,
		audit.Actor,
	).Scan(&audit.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	return tx.Commit(ctx)
}

// conflictOrNotFound disambiguates a zero-row optimistic update.
func (r *Repository) conflictOrNotFound(ctx context.Context, id string) error {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM incidents WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check incident exists: %w", err)
	}
	if exists {
		return incidents.ErrVersionConflict
	}
	return incidents.ErrIncidentNotFound
}

// AddComment appends a comment.
func (r *Repository) AddComment(ctx context.Context, comment *domain.Comment) error {
	query := `
		INSERT INTO incident_comments (id, incident_id, author, text)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		comment.ID,
		comment.IncidentID,
		comment.Author,
		comment.Text,
	).Scan(&comment.CreatedAt)

	if err != nil {
		return fmt.Errorf("add comment: %w", err)
	}
	return nil
}

// ListComments returns comments in append order.
func (r *Repository) ListComments(ctx context.Context, incidentID string) ([]domain.Comment, error) {
	query := `
		SELECT id, incident_id, author, text, created_at
		FROM incident_comments
		WHERE incident_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := make([]domain.Comment, 0)
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.IncidentID, &c.Author, &c.Text, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}

	return comments, rows.Err()
}

// AddAttachment registers an attachment reference.
func (r *Repository) AddAttachment(ctx context.Context, attachment *domain.Attachment) error {
	query := `
		INSERT INTO incident_attachments (id, incident_id, object_key, file_name)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		attachment.ID,
		attachment.IncidentID,
		attachment.ObjectKey,
		attachment.FileName,
	).Scan(&attachment.CreatedAt)

	if err != nil {
		return fmt.Errorf("add attachment: %w", err)
	}
	return nil
}

// ListAttachments returns attachment references in append order.
func (r *Repository) ListAttachments(ctx context.Context, incidentID string) ([]domain.Attachment, error) {
	query := `
		SELECT id, incident_id, object_key, file_name, created_at
		FROM incident_attachments
		WHERE incident_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	attachments := make([]domain.Attachment, 0)
	for rows.Next() {
		var a domain.Attachment
		if err := rows.Scan(&a.ID, &a.IncidentID, &a.ObjectKey, &a.FileName, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		attachments = append(attachments, a)
	}

	return attachments, rows.Err()
}

// ListTransitions returns the audit trail oldest first.
func (r *Repository) ListTransitions(ctx context.Context, incidentID string) ([]domain.StatusTransition, error) {
	query := `
		SELECT id, incident_id, from_status, to_status, actor, created_at
		FROM incident_transitions
		WHERE incident_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.StatusTransition, 0)
	for rows.Next() {
		var t domain.StatusTransition
		if err := rows.Scan(&t.ID, &t.IncidentID, &t.From, &t.To, &t.Actor, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		entries = append(entries, t)
	}

	return entries, rows.Err()
}
