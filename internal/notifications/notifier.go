package notifications

import (
	"context"
	"log/slog"

	"github.com/opsrelay/incident-backend/internal/domain"
	"github.com/opsrelay/incident-backend/internal/rules"
)

// RuleSource provides the enabled alert rules for evaluation.
type RuleSource interface {
	ListEnabled(ctx context.Context) ([]domain.AlertRule, error)
}

// Notifier reacts to incident changes: it evaluates the enabled alert
// rules against the changed incident and dispatches a notification
// event for every match. It implements the incidents.Notifier hooks.
//
// Hooks never propagate errors; a failed notification must not undo a
// committed incident write.
type Notifier struct {
	rules      RuleSource
	dispatcher *Dispatcher
}

// NewNotifier creates a new Notifier.
func NewNotifier(ruleSource RuleSource, dispatcher *Dispatcher) *Notifier {
	return &Notifier{
		rules:      ruleSource,
		dispatcher: dispatcher,
	}
}

// OnIncidentCreated handles notifications for a newly created incident.
func (n *Notifier) OnIncidentCreated(ctx context.Context, incident *domain.Incident) {
	n.evaluateAndDispatch(ctx, incident, domain.EventTypeCreated, "", NewCreatedPayload(incident))
}

// OnStatusChanged handles notifications for a status transition.
func (n *Notifier) OnStatusChanged(ctx context.Context, incident *domain.Incident, from, to domain.IncidentStatus) {
	n.evaluateAndDispatch(ctx, incident, domain.EventTypeStatusChanged, string(to), NewStatusChangedPayload(incident, from, to))
}

// OnSeverityChanged handles notifications for a severity change.
func (n *Notifier) OnSeverityChanged(ctx context.Context, incident *domain.Incident, from, to domain.Severity) {
	n.evaluateAndDispatch(ctx, incident, domain.EventTypeSeverityChanged, string(to), NewSeverityChangedPayload(incident, from, to))
}

// OnCommentAdded handles notifications for a new comment.
func (n *Notifier) OnCommentAdded(ctx context.Context, incident *domain.Incident, comment *domain.Comment) {
	n.evaluateAndDispatch(ctx, incident, domain.EventTypeCommentAdded, comment.ID, NewCommentAddedPayload(incident, comment))
}

// evaluateAndDispatch runs rule evaluation for one incident change and
// dispatches every matching event. fieldValue feeds the dedupe key, so
// it must identify the concrete change (new status, new severity,
// comment id).
func (n *Notifier) evaluateAndDispatch(ctx context.Context, incident *domain.Incident, eventType domain.EventType, fieldValue string, payload NotificationPayload) {
	if n.dispatcher == nil {
		return
	}

	// The hooks run on the request context after the incident write has
	// committed. A client disconnect at that point must not cancel the
	// enqueue, or the committed change fires no notification.
	ctx = context.WithoutCancel(ctx)

	enabled, err := n.rules.ListEnabled(ctx)
	if err != nil {
		slog.Error("failed to load alert rules",
			"incident_id", incident.ID,
			"event_type", eventType,
			"error", err,
		)
		return
	}

	events, skipped := rules.Evaluate(enabled, incident, eventType, fieldValue)
	for _, sk := range skipped {
		slog.Warn("alert rule skipped during evaluation",
			"rule_id", sk.RuleID,
			"incident_id", incident.ID,
			"error", sk.Err,
		)
	}

	if len(events) == 0 {
		slog.Debug("no matching alert rules",
			"incident_id", incident.ID,
			"event_type", eventType,
			"rules_evaluated", len(enabled),
		)
		return
	}

	for i := range events {
		if _, err := n.dispatcher.Dispatch(ctx, &events[i], payload); err != nil {
			slog.Error("failed to dispatch notification event",
				"incident_id", incident.ID,
				"event_type", eventType,
				"dedupe_key", events[i].DedupeKey,
				"error", err,
			)
		}
	}
}
