package notifications

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/opsrelay/incident-backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(dedupeKey string) *domain.NotificationEvent {
	return &domain.NotificationEvent{
		IncidentID: "inc-1",
		EventType:  domain.EventTypeCreated,
		Channels:   []domain.ChannelType{domain.ChannelTypeEmail, domain.ChannelTypeSMS},
		Recipients: []string{"a@example.com", "b@example.com"},
		DedupeKey:  dedupeKey,
	}
}

func testPayload() NotificationPayload {
	return NewCreatedPayload(&domain.Incident{
		ID:          "inc-1",
		Title:       "Database down",
		Description: "Primary unreachable",
		Severity:    domain.SeverityCritical,
		Status:      domain.IncidentStatusOpen,
	})
}

func newTestDispatcher(t *testing.T, repo Repository, senders ...Sender) *Dispatcher {
	t.Helper()
	renderer, err := NewRenderer()
	require.NoError(t, err)
	return NewDispatcher(repo, renderer, 3, senders...)
}

func TestDispatcher_Dispatch_FansOut(t *testing.T) {
	repo := newMemRepository()
	dispatcher := newTestDispatcher(t, repo)

	receipt, err := dispatcher.Dispatch(context.Background(), testEvent("key-1"), testPayload())
	require.NoError(t, err)

	assert.False(t, receipt.Deduplicated)
	assert.NotEmpty(t, receipt.Event.ID)
	assert.Equal(t, domain.DeliveryStatePending, receipt.Event.State)
	assert.NotEmpty(t, receipt.Event.Subject)
	assert.NotEmpty(t, receipt.Event.Body)

	// 2 channels x 2 recipients
	require.Len(t, receipt.Deliveries, 4)
	for _, delivery := range receipt.Deliveries {
		assert.Equal(t, receipt.Event.ID, delivery.EventID)
		assert.Equal(t, DeliveryStatusPending, delivery.Status)
		assert.Equal(t, 3, delivery.MaxAttempts)
		assert.NotEmpty(t, delivery.Subject)
		assert.NotEmpty(t, delivery.Body)
	}
}

func TestDispatcher_Dispatch_Deduplicates(t *testing.T) {
	repo := newMemRepository()
	dispatcher := newTestDispatcher(t, repo)

	first, err := dispatcher.Dispatch(context.Background(), testEvent("key-dup"), testPayload())
	require.NoError(t, err)

	second, err := dispatcher.Dispatch(context.Background(), testEvent("key-dup"), testPayload())
	require.NoError(t, err)

	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Event.ID, second.Event.ID)
	assert.Len(t, second.Deliveries, 4, "existing deliveries returned, none added")

	stats, err := repo.GetQueueStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Pending)
}

func TestDispatcher_Dispatch_RepairsEventWithoutDeliveries(t *testing.T) {
	repo := newMemRepository()
	dispatcher := newTestDispatcher(t, repo)

	// Event row landed but the process died before the deliveries did.
	orphan := testEvent("key-orphan")
	orphan.ID = "evt-orphan"
	orphan.State = domain.DeliveryStatePending
	inserted, err := repo.InsertEvent(context.Background(), orphan)
	require.NoError(t, err)
	require.True(t, inserted)

	receipt, err := dispatcher.Dispatch(context.Background(), testEvent("key-orphan"), testPayload())
	require.NoError(t, err)

	assert.True(t, receipt.Deduplicated)
	assert.Equal(t, "evt-orphan", receipt.Event.ID)
	require.Len(t, receipt.Deliveries, 4)
	for _, delivery := range receipt.Deliveries {
		assert.Equal(t, "evt-orphan", delivery.EventID)
		assert.Equal(t, DeliveryStatusPending, delivery.Status)
		assert.NotEmpty(t, delivery.Subject)
	}

	stats, err := repo.GetQueueStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Pending)

	// A further duplicate must not enqueue again.
	again, err := dispatcher.Dispatch(context.Background(), testEvent("key-orphan"), testPayload())
	require.NoError(t, err)
	assert.True(t, again.Deduplicated)

	stats, err = repo.GetQueueStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Pending)
}

func TestDispatcher_Dispatch_DistinctKeysEnqueueSeparately(t *testing.T) {
	repo := newMemRepository()
	dispatcher := newTestDispatcher(t, repo)

	_, err := dispatcher.Dispatch(context.Background(), testEvent("key-a"), testPayload())
	require.NoError(t, err)
	receipt, err := dispatcher.Dispatch(context.Background(), testEvent("key-b"), testPayload())
	require.NoError(t, err)

	assert.False(t, receipt.Deduplicated)

	stats, err := repo.GetQueueStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(8), stats.Pending)
}

func TestDispatcher_Dispatch_WebhookBodyIsJSON(t *testing.T) {
	repo := newMemRepository()
	dispatcher := newTestDispatcher(t, repo)

	event := testEvent("key-webhook")
	event.Channels = []domain.ChannelType{domain.ChannelTypeWebhook}
	event.Recipients = []string{"https://hooks.example.com/x"}

	receipt, err := dispatcher.Dispatch(context.Background(), event, testPayload())
	require.NoError(t, err)

	require.Len(t, receipt.Deliveries, 1)
	assert.True(t, json.Valid([]byte(receipt.Deliveries[0].Body)))
	assert.Contains(t, receipt.Deliveries[0].Body, `"event_type":"created"`)
	assert.Contains(t, receipt.Deliveries[0].Body, `"Database down"`)
}

func TestDispatcher_SendToChannel_UnknownChannel(t *testing.T) {
	repo := newMemRepository()
	dispatcher := newTestDispatcher(t, repo, newMockSender(domain.ChannelTypeEmail))

	err := dispatcher.SendToChannel(context.Background(), domain.ChannelTypeSMS, Notification{})
	assert.ErrorIs(t, err, ErrUnknownChannel)

	// Retrying cannot conjure a sender, so attempts must not be burned.
	var retryErr *RetryableError
	require.ErrorAs(t, err, &retryErr)
	assert.False(t, retryErr.IsRetryable())
}

func TestDispatcher_SendToChannel(t *testing.T) {
	repo := newMemRepository()
	sender := newMockSender(domain.ChannelTypeEmail)
	dispatcher := newTestDispatcher(t, repo, sender)

	err := dispatcher.SendToChannel(context.Background(), domain.ChannelTypeEmail, Notification{
		To:      "a@example.com",
		Subject: "hello",
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "a@example.com", sender.sent[0].To)
}
