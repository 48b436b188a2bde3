package incidents

import "github.com/opsrelay/incident-backend/internal/domain"

// transitions is the lifecycle graph. An incident starts in open and may
// only follow these edges; closed has no outgoing edges.
var transitions = map[domain.IncidentStatus][]domain.IncidentStatus{
	domain.IncidentStatusOpen: {
		domain.IncidentStatusInProgress,
		domain.IncidentStatusResolved,
	},
	domain.IncidentStatusInProgress: {
		domain.IncidentStatusResolved,
		domain.IncidentStatusOpen, // reopen
	},
	domain.IncidentStatusResolved: {
		domain.IncidentStatusClosed,
		domain.IncidentStatusInProgress, // reopen
	},
	domain.IncidentStatusClosed: {},
}

// CanTransition reports whether the edge from -> to exists in the
// lifecycle graph.
func CanTransition(from, to domain.IncidentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the valid next statuses from the given one.
func AllowedTransitions(from domain.IncidentStatus) []domain.IncidentStatus {
	next := transitions[from]
	out := make([]domain.IncidentStatus, len(next))
	copy(out, next)
	return out
}
