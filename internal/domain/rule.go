package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrRuleInvalid marks a malformed alert rule. A rule failing validation
// is skipped during evaluation; it never blocks other rules or the
// triggering request.
var ErrRuleInvalid = errors.New("alert rule is invalid")

// AlertRule maps a condition over incident changes to notification
// targets. Rules are unordered and evaluated independently of each other.
type AlertRule struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	// MinSeverity fires the rule only for incidents at or above the
	// threshold. Nil matches any severity.
	MinSeverity *Severity `json:"min_severity,omitempty"`
	// EventTypes restricts which lifecycle events fire the rule. Empty
	// matches all non-adhoc event types.
	EventTypes []EventType `json:"event_types,omitempty"`
	// Keywords fire the rule only when at least one keyword occurs in the
	// incident title or description (case-insensitive). Empty matches all.
	Keywords   []string      `json:"keywords,omitempty"`
	Channels   []ChannelType `json:"channels"`
	Recipients []string      `json:"recipients"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Validate reports whether the rule is well formed. All returned errors
// wrap ErrRuleInvalid.
func (r *AlertRule) Validate() error {
	if len(r.Channels) == 0 {
		return fmt.Errorf("%w: no channels", ErrRuleInvalid)
	}
	for _, ch := range r.Channels {
		if !ch.IsValid() {
			return fmt.Errorf("%w: unknown channel %q", ErrRuleInvalid, ch)
		}
	}
	if len(r.Recipients) == 0 {
		return fmt.Errorf("%w: no recipients", ErrRuleInvalid)
	}
	if r.MinSeverity != nil && !r.MinSeverity.IsValid() {
		return fmt.Errorf("%w: unknown severity %q", ErrRuleInvalid, *r.MinSeverity)
	}
	for _, et := range r.EventTypes {
		if !et.IsValid() || et == EventTypeAdHoc {
			return fmt.Errorf("%w: unknown event type %q", ErrRuleInvalid, et)
		}
	}
	return nil
}

// Matches reports whether the rule condition holds for the given incident
// snapshot and event type. The rule must be validated first; Matches does
// not re-check enum membership.
func (r *AlertRule) Matches(incident *Incident, eventType EventType) bool {
	if !r.Enabled {
		return false
	}

	if len(r.EventTypes) > 0 {
		found := false
		for _, et := range r.EventTypes {
			if et == eventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if r.MinSeverity != nil && !incident.Severity.AtLeast(*r.MinSeverity) {
		return false
	}

	if len(r.Keywords) > 0 {
		haystack := strings.ToLower(incident.Title + " " + incident.Description)
		found := false
		for _, kw := range r.Keywords {
			if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}
