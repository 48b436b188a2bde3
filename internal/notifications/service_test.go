package notifications

import (
	"context"
	"testing"

	"github.com/opsrelay/incident-backend/internal/domain"
	"github.com/opsrelay/incident-backend/internal/incidents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticIncidentSource serves one incident by ID.
type staticIncidentSource struct {
	incident *domain.Incident
}

func (s *staticIncidentSource) Get(_ context.Context, id string) (*domain.Incident, error) {
	if s.incident == nil || s.incident.ID != id {
		return nil, incidents.ErrIncidentNotFound
	}
	return s.incident, nil
}

func newTestNotificationService(t *testing.T) (*Service, *memRepository) {
	t.Helper()
	repo := newMemRepository()
	dispatcher := newTestDispatcher(t, repo)
	source := &staticIncidentSource{incident: notifierIncident()}
	return NewService(repo, dispatcher, source), repo
}

func adHocInput() AdHocInput {
	return AdHocInput{
		IncidentID: "inc-7",
		Subject:    "Failover planned",
		Message:    "We fail over at 22:00 UTC",
		Channels:   []domain.ChannelType{domain.ChannelTypeEmail},
		Recipients: []string{"oncall@example.com"},
	}
}

func TestService_NotifyAdHoc(t *testing.T) {
	svc, _ := newTestNotificationService(t)

	receipt, err := svc.NotifyAdHoc(context.Background(), adHocInput())
	require.NoError(t, err)

	assert.False(t, receipt.Deduplicated)
	assert.Equal(t, domain.EventTypeAdHoc, receipt.Event.EventType)
	assert.Equal(t, "Failover planned", receipt.Event.Subject)
	require.Len(t, receipt.Deliveries, 1)
	assert.Equal(t, "oncall@example.com", receipt.Deliveries[0].Recipient)
}

func TestService_NotifyAdHoc_UnknownIncident(t *testing.T) {
	svc, _ := newTestNotificationService(t)

	input := adHocInput()
	input.IncidentID = "missing"

	_, err := svc.NotifyAdHoc(context.Background(), input)
	assert.ErrorIs(t, err, incidents.ErrIncidentNotFound)
}

func TestService_NotifyAdHoc_IdempotencyKey(t *testing.T) {
	svc, repo := newTestNotificationService(t)

	input := adHocInput()
	input.IdempotencyKey = "client-retry-1"

	first, err := svc.NotifyAdHoc(context.Background(), input)
	require.NoError(t, err)
	second, err := svc.NotifyAdHoc(context.Background(), input)
	require.NoError(t, err)

	assert.False(t, first.Deduplicated)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Event.ID, second.Event.ID)
	assert.Len(t, repo.events, 1)
}

func TestService_NotifyAdHoc_NoKeyNoDedupe(t *testing.T) {
	svc, repo := newTestNotificationService(t)

	_, err := svc.NotifyAdHoc(context.Background(), adHocInput())
	require.NoError(t, err)
	_, err = svc.NotifyAdHoc(context.Background(), adHocInput())
	require.NoError(t, err)

	assert.Len(t, repo.events, 2, "without idempotency key every trigger is distinct")
}

func TestService_GetReceipt(t *testing.T) {
	svc, _ := newTestNotificationService(t)

	input := adHocInput()
	input.IdempotencyKey = "receipt-key"

	created, err := svc.NotifyAdHoc(context.Background(), input)
	require.NoError(t, err)

	receipt, err := svc.GetReceipt(context.Background(), created.Event.DedupeKey)
	require.NoError(t, err)
	assert.Equal(t, created.Event.ID, receipt.Event.ID)
	assert.Len(t, receipt.Deliveries, 1)
}

func TestService_GetReceipt_NotFound(t *testing.T) {
	svc, _ := newTestNotificationService(t)

	_, err := svc.GetReceipt(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestService_QueueStats(t *testing.T) {
	svc, _ := newTestNotificationService(t)

	_, err := svc.NotifyAdHoc(context.Background(), adHocInput())
	require.NoError(t, err)

	stats, err := svc.QueueStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
}
