package incidents

import (
	"testing"

	"github.com/opsrelay/incident-backend/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    domain.IncidentStatus
		to      domain.IncidentStatus
		allowed bool
	}{
		{"open to in_progress", domain.IncidentStatusOpen, domain.IncidentStatusInProgress, true},
		{"open to resolved", domain.IncidentStatusOpen, domain.IncidentStatusResolved, true},
		{"open to closed", domain.IncidentStatusOpen, domain.IncidentStatusClosed, false},
		{"in_progress to resolved", domain.IncidentStatusInProgress, domain.IncidentStatusResolved, true},
		{"in_progress reopen", domain.IncidentStatusInProgress, domain.IncidentStatusOpen, true},
		{"in_progress to closed", domain.IncidentStatusInProgress, domain.IncidentStatusClosed, false},
		{"resolved to closed", domain.IncidentStatusResolved, domain.IncidentStatusClosed, true},
		{"resolved reopen", domain.IncidentStatusResolved, domain.IncidentStatusInProgress, true},
		{"resolved to open", domain.IncidentStatusResolved, domain.IncidentStatusOpen, false},
		{"closed is terminal", domain.IncidentStatusClosed, domain.IncidentStatusOpen, false},
		{"closed to resolved", domain.IncidentStatusClosed, domain.IncidentStatusResolved, false},
		{"self transition", domain.IncidentStatusOpen, domain.IncidentStatusOpen, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestAllowedTransitions(t *testing.T) {
	assert.ElementsMatch(t,
		[]domain.IncidentStatus{domain.IncidentStatusInProgress, domain.IncidentStatusResolved},
		AllowedTransitions(domain.IncidentStatusOpen))

	assert.Empty(t, AllowedTransitions(domain.IncidentStatusClosed))
}
