// Package postgres provides PostgreSQL implementation of notifications repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsrelay/incident-backend/internal/domain"
	"github.com/opsrelay/incident-backend/internal/notifications"
)

// Repository implements notifications.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const eventColumns = `id, incident_id, event_type, channels, recipients, dedupe_key, state, subject, body, rule_id, created_at, updated_at`

func scanEvent(row pgx.Row) (*domain.NotificationEvent, error) {
	var event domain.NotificationEvent
	var channels []string
	err := row.Scan(
		&event.ID,
		&event.IncidentID,
		&event.EventType,
		&channels,
		&event.Recipients,
		&event.DedupeKey,
		&event.State,
		&event.Subject,
		&event.Body,
		&event.RuleID,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	event.Channels = toChannelTypes(channels)
	return &event, nil
}

func toChannelTypes(values []string) []domain.ChannelType {
	channels := make([]domain.ChannelType, len(values))
	for i, v := range values {
		channels[i] = domain.ChannelType(v)
	}
	return channels
}

func channelStrings(channels []domain.ChannelType) []string {
	values := make([]string, len(channels))
	for i, c := range channels {
		values[i] = string(c)
	}
	return values
}

// InsertEvent persists a notification event unless its dedupe key
// already exists. Returns false without error on a duplicate.
func (r *Repository) InsertEvent(ctx context.Context, event *domain.NotificationEvent) (bool, error) {
	query := `
		INSERT INTO notification_events (id, incident_id, event_type, channels, recipients, dedupe_key, state, subject, body, rule_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (dedupe_key) DO NOTHING
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		event.ID,
		event.IncidentID,
		event.EventType,
		channelStrings(event.Channels),
		event.Recipients,
		event.DedupeKey,
		event.State,
		event.Subject,
		event.Body,
		event.RuleID,
	).Scan(&event.CreatedAt, &event.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	return true, nil
}

// GetEventByDedupeKey retrieves a notification event by its dedupe key.
func (r *Repository) GetEventByDedupeKey(ctx context.Context, dedupeKey string) (*domain.NotificationEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM notification_events WHERE dedupe_key = $1`

	event, err := scanEvent(r.db.QueryRow(ctx, query, dedupeKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrEventNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

// CreateDeliveries inserts delivery rows in a single transaction.
func (r *Repository) CreateDeliveries(ctx context.Context, deliveries []*notifications.Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	query := `
		INSERT INTO notification_deliveries (id, event_id, channel, recipient, subject, body, status, max_attempts, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	for _, d := range deliveries {
		err := tx.QueryRow(ctx, query,
			d.ID,
			d.EventID,
			d.Channel,
			d.Recipient,
			d.Subject,
			d.Body,
			d.Status,
			d.MaxAttempts,
			d.NextAttemptAt,
		).Scan(&d.CreatedAt, &d.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert delivery for %s: %w", d.Recipient, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const deliveryColumns = `id, event_id, channel, recipient, subject, body, status, attempts, max_attempts, next_attempt_at, COALESCE(last_error, ''), created_at, updated_at, sent_at`

func scanDelivery(row pgx.Row) (*notifications.Delivery, error) {
	var d notifications.Delivery
	err := row.Scan(
		&d.ID,
		&d.EventID,
		&d.Channel,
		&d.Recipient,
		&d.Subject,
		&d.Body,
		&d.Status,
		&d.Attempts,
		&d.MaxAttempts,
		&d.NextAttemptAt,
		&d.LastError,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.SentAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDeliveries returns all deliveries of an event in creation order.
func (r *Repository) ListDeliveries(ctx context.Context, eventID string) ([]notifications.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM notification_deliveries WHERE event_id = $1 ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := make([]notifications.Delivery, 0)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		deliveries = append(deliveries, *d)
	}
	return deliveries, nil
}

// FetchDueDeliveries claims up to limit due deliveries. SKIP LOCKED
// keeps concurrent workers from claiming the same rows.
func (r *Repository) FetchDueDeliveries(ctx context.Context, limit int) ([]*notifications.Delivery, error) {
	query := `
		WITH claimed AS (
			UPDATE notification_deliveries
			SET status = 'processing', updated_at = NOW()
			WHERE id IN (
				SELECT id FROM notification_deliveries
				WHERE status = 'pending' AND next_attempt_at <= NOW()
				ORDER BY next_attempt_at
				LIMIT $1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id, event_id, channel, recipient, subject, body, status, attempts, max_attempts, next_attempt_at, last_error, created_at, updated_at, sent_at
		)
		SELECT c.id, c.event_id, c.channel, c.recipient, c.subject, c.body, c.status, c.attempts, c.max_attempts,
		       c.next_attempt_at, COALESCE(c.last_error, ''), c.created_at, c.updated_at, c.sent_at, e.dedupe_key
		FROM claimed c
		JOIN notification_events e ON e.id = c.event_id
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch due deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := make([]*notifications.Delivery, 0)
	for rows.Next() {
		var d notifications.Delivery
		err := rows.Scan(
			&d.ID,
			&d.EventID,
			&d.Channel,
			&d.Recipient,
			&d.Subject,
			&d.Body,
			&d.Status,
			&d.Attempts,
			&d.MaxAttempts,
			&d.NextAttemptAt,
			&d.LastError,
			&d.CreatedAt,
			&d.UpdatedAt,
			&d.SentAt,
			&d.DedupeKey,
		)
		if err != nil {
			return nil, fmt.Errorf("scan claimed delivery: %w", err)
		}
		deliveries = append(deliveries, &d)
	}
	return deliveries, nil
}

// RequeueStaleDeliveries resets orphaned processing claims to pending.
// A row whose claim is older than olderThan belongs to a worker that
// died before recording an outcome; re-sending it is the at-least-once
// trade.
func (r *Repository) RequeueStaleDeliveries(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE notification_deliveries
		SET status = 'pending', next_attempt_at = NOW(), updated_at = NOW()
		WHERE status = 'processing' AND updated_at < NOW() - ($1 * INTERVAL '1 second')
	`

	tag, err := r.db.Exec(ctx, query, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("requeue stale deliveries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkDeliverySent marks a delivery as sent.
func (r *Repository) MarkDeliverySent(ctx context.Context, id string) error {
	query := `
		UPDATE notification_deliveries
		SET status = 'sent', attempts = attempts + 1, sent_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark delivery sent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrDeliveryNotFound
	}
	return nil
}

// MarkDeliveryFailed marks a delivery as permanently failed.
func (r *Repository) MarkDeliveryFailed(ctx context.Context, id string, sendErr error) error {
	query := `
		UPDATE notification_deliveries
		SET status = 'failed', attempts = attempts + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, id, sendErr.Error())
	if err != nil {
		return fmt.Errorf("mark delivery failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrDeliveryNotFound
	}
	return nil
}

// MarkDeliveryForRetry returns a delivery to the queue for a later attempt.
func (r *Repository) MarkDeliveryForRetry(ctx context.Context, id string, sendErr error, nextAttempt time.Time) error {
	query := `
		UPDATE notification_deliveries
		SET status = 'pending', attempts = attempts + 1, last_error = $2, next_attempt_at = $3, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, id, sendErr.Error(), nextAttempt)
	if err != nil {
		return fmt.Errorf("mark delivery for retry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrDeliveryNotFound
	}
	return nil
}

// ResolveEventState recomputes the event state from its deliveries.
// Terminal states stick: a delivered or abandoned event is never
// downgraded by later recomputation.
func (r *Repository) ResolveEventState(ctx context.Context, eventID string) (domain.DeliveryState, error) {
	query := `
		UPDATE notification_events e
		SET state = agg.next_state, updated_at = NOW()
		FROM (
			SELECT CASE
				WHEN COUNT(*) FILTER (WHERE d.status = 'sent') > 0 THEN 'delivered'
				WHEN COUNT(*) = COUNT(*) FILTER (WHERE d.status = 'failed') THEN 'abandoned'
				WHEN COUNT(*) FILTER (WHERE d.status = 'failed') > 0 THEN 'failed'
				ELSE 'pending'
			END AS next_state
			FROM notification_deliveries d
			WHERE d.event_id = $1
		) agg
		WHERE e.id = $1 AND e.state NOT IN ('delivered', 'abandoned')
		RETURNING e.state
	`
	var state domain.DeliveryState
	err := r.db.QueryRow(ctx, query, eventID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already terminal; report the stored state.
		current := `SELECT state FROM notification_events WHERE id = $1`
		if err := r.db.QueryRow(ctx, current, eventID).Scan(&state); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return "", notifications.ErrEventNotFound
			}
			return "", fmt.Errorf("get event state: %w", err)
		}
		return state, nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve event state: %w", err)
	}
	return state, nil
}

// GetQueueStats returns delivery counts by status.
func (r *Repository) GetQueueStats(ctx context.Context) (*notifications.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'sent'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM notification_deliveries
	`
	var stats notifications.QueueStats
	err := r.db.QueryRow(ctx, query).Scan(&stats.Pending, &stats.Processing, &stats.Sent, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	return &stats, nil
}

// DeleteTerminalEventsBefore removes delivered and abandoned events last
// updated before cutoff. Deliveries cascade with the event rows.
func (r *Repository) DeleteTerminalEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM notification_events
		WHERE state IN ('delivered', 'abandoned') AND updated_at < $1
	`
	result, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete terminal events: %w", err)
	}
	return result.RowsAffected(), nil
}
