// Package rules provides configurable alert rules and their evaluation
// against incident changes.
package rules

import (
	"github.com/opsrelay/incident-backend/internal/domain"
)

// SkippedRule records a rule excluded from evaluation because it failed
// validation. The caller decides how to report it; a malformed rule never
// blocks other rules or the triggering request.
type SkippedRule struct {
	RuleID string
	Err    error
}

// Evaluate tests every rule against the incident snapshot and returns one
// NotificationEvent per matching rule, plus the rules skipped as invalid.
//
// Evaluate is a pure function of its inputs: no I/O, no side effects, and
// identical inputs yield the same multiset of events. Rules are unordered
// and independent; events from distinct rules carry distinct dedupe keys
// even when they target the same change.
//
// fieldValue captures the changed value the event is about (new status,
// new severity, comment id, empty for creation) and feeds the dedupe key.
func Evaluate(rules []domain.AlertRule, incident *domain.Incident, eventType domain.EventType, fieldValue string) ([]domain.NotificationEvent, []SkippedRule) {
	events := make([]domain.NotificationEvent, 0)
	var skipped []SkippedRule

	for i := range rules {
		rule := &rules[i]

		if err := rule.Validate(); err != nil {
			skipped = append(skipped, SkippedRule{RuleID: rule.ID, Err: err})
			continue
		}

		if !rule.Matches(incident, eventType) {
			continue
		}

		ruleID := rule.ID
		events = append(events, domain.NotificationEvent{
			IncidentID: incident.ID,
			EventType:  eventType,
			Channels:   append([]domain.ChannelType(nil), rule.Channels...),
			Recipients: append([]string(nil), rule.Recipients...),
			DedupeKey:  domain.DedupeKey(incident.ID, eventType, fieldValue, rule.ID),
			State:      domain.DeliveryStatePending,
			RuleID:     &ruleID,
		})
	}

	return events, skipped
}
