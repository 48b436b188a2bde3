package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// WorkerConfig contains worker configuration.
type WorkerConfig struct {
	BatchSize         int
	PollInterval      time.Duration
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	NumWorkers        int
	SendTimeout       time.Duration
	Retention         time.Duration
	SweepInterval     time.Duration
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:         100,
		PollInterval:      5 * time.Second,
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        5 * time.Minute,
		BackoffMultiplier: 2.0,
		NumWorkers:        5,
		SendTimeout:       10 * time.Second,
		Retention:         72 * time.Hour,
		SweepInterval:     1 * time.Hour,
	}
}

// Worker drains the delivery queue: it claims due deliveries, sends
// them, schedules retries with exponential backoff and keeps each
// event's aggregate state in sync with its deliveries.
type Worker struct {
	config     WorkerConfig
	repo       Repository
	dispatcher *Dispatcher

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWorker creates a new notification worker.
func NewWorker(config WorkerConfig, repo Repository, dispatcher *Dispatcher) *Worker {
	return &Worker{
		config:     config,
		repo:       repo,
		dispatcher: dispatcher,
		stopCh:     make(chan struct{}),
	}
}

// Start launches worker goroutines and the retention sweeper.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting notification worker",
		"workers", w.config.NumWorkers,
		"batch_size", w.config.BatchSize,
		"poll_interval", w.config.PollInterval,
		"retention", w.config.Retention,
	)

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}

	w.wg.Add(1)
	go w.runSweeper(ctx)
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	slog.Info("notification worker stopped")
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.processBatch(ctx, workerID)
		}
	}
}

func (w *Worker) runSweeper(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep(ctx)

			if stats, err := w.repo.GetQueueStats(ctx); err == nil {
				RecordQueueStats(stats)
			}
		}
	}
}

// sweep removes delivered and abandoned events past the retention
// window. Their deliveries go with them.
func (w *Worker) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-w.config.Retention)
	deleted, err := w.repo.DeleteTerminalEventsBefore(ctx, cutoff)
	if err != nil {
		slog.Error("retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("retention sweep completed", "deleted_events", deleted, "cutoff", cutoff)
	}
}

// staleClaimAge bounds how long a claimed delivery may stay processing
// before it counts as orphaned. A live worker drains its batch
// serially, so a healthy claim can age up to BatchSize sends.
func (w *Worker) staleClaimAge() time.Duration {
	return time.Duration(w.config.BatchSize) * w.config.SendTimeout
}

func (w *Worker) processBatch(ctx context.Context, workerID int) {
	requeued, err := w.repo.RequeueStaleDeliveries(ctx, w.staleClaimAge())
	if err != nil {
		slog.Error("failed to requeue stale deliveries", "worker", workerID, "error", err)
	} else if requeued > 0 {
		slog.Warn("requeued stale delivery claims", "worker", workerID, "count", requeued)
	}

	deliveries, err := w.repo.FetchDueDeliveries(ctx, w.config.BatchSize)
	if err != nil {
		slog.Error("failed to fetch due deliveries", "worker", workerID, "error", err)
		return
	}

	if len(deliveries) == 0 {
		return
	}

	slog.Debug("processing deliveries", "worker", workerID, "count", len(deliveries))
	recordQueueProcessed(len(deliveries))

	for _, delivery := range deliveries {
		w.processDelivery(ctx, delivery)
	}
}

func (w *Worker) processDelivery(ctx context.Context, delivery *Delivery) {
	start := time.Now()

	notification := Notification{
		To:        delivery.Recipient,
		Subject:   delivery.Subject,
		Body:      delivery.Body,
		DedupeKey: delivery.DedupeKey,
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.config.SendTimeout)
	err := w.dispatcher.SendToChannel(sendCtx, delivery.Channel, notification)
	cancel()
	duration := time.Since(start)

	// Outcome writes must land even when shutdown has cancelled the
	// worker context, or the claimed row stays processing until the
	// stale-claim requeue re-sends it.
	persistCtx := context.WithoutCancel(ctx)

	if err != nil {
		w.handleSendError(persistCtx, delivery, err)
		return
	}

	if err := w.repo.MarkDeliverySent(persistCtx, delivery.ID); err != nil {
		slog.Error("failed to mark delivery sent", "delivery_id", delivery.ID, "error", err)
	}
	w.resolveEvent(persistCtx, delivery.EventID)

	recordNotificationSent(string(delivery.Channel), "success")
	recordNotificationDuration(string(delivery.Channel), duration)

	slog.Debug("delivery sent",
		"delivery_id", delivery.ID,
		"channel", delivery.Channel,
		"duration", duration,
	)
}

func (w *Worker) handleSendError(ctx context.Context, delivery *Delivery, err error) {
	slog.Warn("delivery failed",
		"delivery_id", delivery.ID,
		"channel", delivery.Channel,
		"attempt", delivery.Attempts+1,
		"max_attempts", delivery.MaxAttempts,
		"error", err,
	)

	// Non-retryable errors fail immediately
	if !isRetryable(err) {
		if markErr := w.repo.MarkDeliveryFailed(ctx, delivery.ID, err); markErr != nil {
			slog.Error("failed to mark delivery failed", "delivery_id", delivery.ID, "error", markErr)
		}
		w.resolveEvent(ctx, delivery.EventID)
		recordNotificationSent(string(delivery.Channel), "failed")
		return
	}

	// Attempt limit exhausted
	if delivery.Attempts+1 >= delivery.MaxAttempts {
		if markErr := w.repo.MarkDeliveryFailed(ctx, delivery.ID, fmt.Errorf("max attempts exceeded: %w", err)); markErr != nil {
			slog.Error("failed to mark delivery failed", "delivery_id", delivery.ID, "error", markErr)
		}
		w.resolveEvent(ctx, delivery.EventID)
		recordNotificationSent(string(delivery.Channel), "failed")
		return
	}

	nextAttempt := w.calculateNextAttempt(delivery.Attempts + 1)
	if markErr := w.repo.MarkDeliveryForRetry(ctx, delivery.ID, err, nextAttempt); markErr != nil {
		slog.Error("failed to mark delivery for retry", "delivery_id", delivery.ID, "error", markErr)
	}
	recordNotificationSent(string(delivery.Channel), "retry")

	slog.Info("delivery scheduled for retry",
		"delivery_id", delivery.ID,
		"next_attempt", nextAttempt,
	)
}

// resolveEvent recomputes the event's aggregate state after a delivery
// reached a terminal status.
func (w *Worker) resolveEvent(ctx context.Context, eventID string) {
	state, err := w.repo.ResolveEventState(ctx, eventID)
	if err != nil {
		slog.Error("failed to resolve event state", "event_id", eventID, "error", err)
		return
	}
	recordEventState(string(state))
}

func (w *Worker) calculateNextAttempt(attempt int) time.Time {
	backoff := float64(w.config.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= w.config.BackoffMultiplier
	}

	if backoff > float64(w.config.MaxBackoff) {
		backoff = float64(w.config.MaxBackoff)
	}

	return time.Now().Add(time.Duration(backoff))
}

// isRetryable checks if an error is retryable. The classification
// survives wrapping.
func isRetryable(err error) bool {
	var r interface {
		IsRetryable() bool
	}
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	// Default: retry unknown errors
	return true
}

// RetryableError wraps an error and marks it as retryable or not.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError creates a non-retryable error.
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}
