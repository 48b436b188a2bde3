//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsrelay/incident-backend/internal/notifications"
	"github.com/opsrelay/incident-backend/internal/notifications/email"
)

func TestNotifications_EmailEndToEnd(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, mailpitClient.DeleteAllMessages(ctx))

	sender, err := email.NewSender(email.Config{
		Enabled:     true,
		SMTPHost:    mailpitContainer.SMTPHost,
		SMTPPort:    mailpitContainer.SMTPPort,
		FromAddress: "opsrelay@example.com",
	})
	require.NoError(t, err)

	recipient := uniqueRecipient("e2e")
	incident := createTestIncident(t, client, incidentOverrides{
		Title:    "Payment gateway timeouts",
		Severity: "critical",
	})

	resp, err := client.POST("/api/v1/notify", map[string]any{
		"incident_id": incident.ID,
		"subject":     fmt.Sprintf("Escalation: %s", incident.Title),
		"message":     "Gateway error rate above 30 percent, paging payments on-call.",
		"channels":    []string{"email"},
		"recipients":  []string{recipient},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	receipt := decodeData[notifications.DeliveryReceipt](t, resp)
	resp.Body.Close()

	stopWorker := startQueueWorker(t, sender)
	defer stopWorker()

	var message MailpitMessage
	require.Eventually(t, func() bool {
		messages, err := mailpitClient.GetMessages(ctx)
		if err != nil {
			return false
		}
		for _, m := range messages {
			for _, to := range m.AllRecipients() {
				if to == recipient {
					message = m
					return true
				}
			}
		}
		return false
	}, 30*time.Second, 250*time.Millisecond, "email never arrived in mailpit")

	assert.Equal(t, "opsrelay@example.com", message.From.Address)
	assert.Equal(t, "Escalation: Payment gateway timeouts", message.Subject)

	body, err := mailpitClient.GetMessageText(ctx, message.ID)
	require.NoError(t, err)
	assert.Contains(t, body, "paging payments on-call")

	// Queue side agrees with the mailbox.
	require.Eventually(t, func() bool {
		final := getReceipt(t, client, receipt.Event.DedupeKey)
		return final.Event != nil && final.Event.State.IsTerminal()
	}, 15*time.Second, 100*time.Millisecond)
}
