package notifications

import (
	"time"

	"github.com/opsrelay/incident-backend/internal/domain"
)

// NotificationPayload contains data for rendering a notification.
type NotificationPayload struct {
	EventType   domain.EventType `json:"event_type"`
	Incident    IncidentInfo     `json:"incident"`
	Change      *ChangeInfo      `json:"change,omitempty"`
	Comment     *CommentInfo     `json:"comment,omitempty"`
	Subject     string           `json:"subject,omitempty"` // ad hoc only
	Message     string           `json:"message,omitempty"` // ad hoc only
	GeneratedAt time.Time        `json:"generated_at"`
}

// IncidentInfo contains incident data for notification context.
type IncidentInfo struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Severity    string     `json:"severity"`
	Status      string     `json:"status"`
	Assignee    string     `json:"assignee,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// ChangeInfo describes a single field change on an incident.
type ChangeInfo struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// CommentInfo contains comment data for notification context.
type CommentInfo struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

// buildIncidentInfo constructs IncidentInfo from a domain incident.
func buildIncidentInfo(incident *domain.Incident) IncidentInfo {
	info := IncidentInfo{
		ID:          incident.ID,
		Title:       incident.Title,
		Description: incident.Description,
		Severity:    string(incident.Severity),
		Status:      string(incident.Status),
		CreatedAt:   incident.CreatedAt,
		ResolvedAt:  incident.ResolvedAt,
	}
	if incident.Assignee != nil {
		info.Assignee = *incident.Assignee
	}
	return info
}

// NewCreatedPayload creates a payload for a new incident notification.
func NewCreatedPayload(incident *domain.Incident) NotificationPayload {
	return NotificationPayload{
		EventType:   domain.EventTypeCreated,
		Incident:    buildIncidentInfo(incident),
		GeneratedAt: time.Now(),
	}
}

// NewStatusChangedPayload creates a payload for a status transition.
func NewStatusChangedPayload(incident *domain.Incident, from, to domain.IncidentStatus) NotificationPayload {
	return NotificationPayload{
		EventType: domain.EventTypeStatusChanged,
		Incident:  buildIncidentInfo(incident),
		Change: &ChangeInfo{
			Field: "status",
			From:  string(from),
			To:    string(to),
		},
		GeneratedAt: time.Now(),
	}
}

// NewSeverityChangedPayload creates a payload for a severity change.
func NewSeverityChangedPayload(incident *domain.Incident, from, to domain.Severity) NotificationPayload {
	return NotificationPayload{
		EventType: domain.EventTypeSeverityChanged,
		Incident:  buildIncidentInfo(incident),
		Change: &ChangeInfo{
			Field: "severity",
			From:  string(from),
			To:    string(to),
		},
		GeneratedAt: time.Now(),
	}
}

// NewCommentAddedPayload creates a payload for a new comment.
func NewCommentAddedPayload(incident *domain.Incident, comment *domain.Comment) NotificationPayload {
	return NotificationPayload{
		EventType: domain.EventTypeCommentAdded,
		Incident:  buildIncidentInfo(incident),
		Comment: &CommentInfo{
			Author: comment.Author,
			Text:   comment.Text,
		},
		GeneratedAt: time.Now(),
	}
}

// NewAdHocPayload creates a payload for a manually triggered notification.
func NewAdHocPayload(incident *domain.Incident, subject, message string) NotificationPayload {
	return NotificationPayload{
		EventType:   domain.EventTypeAdHoc,
		Incident:    buildIncidentInfo(incident),
		Subject:     subject,
		Message:     message,
		GeneratedAt: time.Now(),
	}
}
