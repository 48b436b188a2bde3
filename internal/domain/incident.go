package domain

import "time"

// IncidentStatus represents the lifecycle status of an incident.
type IncidentStatus string

// Incident statuses.
const (
	IncidentStatusOpen       IncidentStatus = "open"
	IncidentStatusInProgress IncidentStatus = "in_progress"
	IncidentStatusResolved   IncidentStatus = "resolved"
	IncidentStatusClosed     IncidentStatus = "closed"
)

// IsValid checks if the incident status is valid.
func (s IncidentStatus) IsValid() bool {
	switch s {
	case IncidentStatusOpen, IncidentStatusInProgress,
		IncidentStatusResolved, IncidentStatusClosed:
		return true
	}
	return false
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s IncidentStatus) IsTerminal() bool {
	return s == IncidentStatusClosed
}

// Severity represents the severity level of an incident.
type Severity string

// Severity levels, ordered from least to most severe.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is valid.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank returns the position of the severity in the low..critical order.
// Unknown severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// AtLeast reports whether s is at least as severe as threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return s.Rank() >= threshold.Rank()
}

// Incident represents a tracked operational event with a severity and
// lifecycle status. Incidents are never deleted; closed is terminal and
// the record is retained for audit.
type Incident struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Severity    Severity       `json:"severity"`
	Status      IncidentStatus `json:"status"`
	// Assignee is a weak reference to a user identifier. It may dangle if
	// the user was removed; it is used for lookup only.
	Assignee   *string    `json:"assignee,omitempty"`
	ReportedBy string     `json:"reported_by"`
	Tags       []string   `json:"tags,omitempty"`
	Version    int        `json:"version"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Comment is an append-only note on an incident.
type Comment struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incident_id"`
	Author     string    `json:"author"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}

// Attachment references a blob stored in an external object store.
// The incident record owns only the key, never the blob itself.
type Attachment struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incident_id"`
	ObjectKey  string    `json:"object_key"`
	FileName   string    `json:"file_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// StatusTransition is an audit entry recorded for every successful
// status transition.
type StatusTransition struct {
	ID         string         `json:"id"`
	IncidentID string         `json:"incident_id"`
	From       IncidentStatus `json:"from"`
	To         IncidentStatus `json:"to"`
	Actor      string         `json:"actor"`
	CreatedAt  time.Time      `json:"created_at"`
}
