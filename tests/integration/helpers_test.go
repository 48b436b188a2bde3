//go:build integration

package integration

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opsrelay/incident-backend/internal/domain"
	"github.com/opsrelay/incident-backend/internal/testutil"
)

// incidentOverrides tweaks the default payload used by createTestIncident.
type incidentOverrides struct {
	Title       string
	Description string
	Severity    string
	Assignee    *string
	Tags        []string
}

// createTestIncident creates an incident via the API and returns it.
func createTestIncident(t *testing.T, client *testutil.Client, overrides incidentOverrides) domain.Incident {
	t.Helper()

	payload := map[string]any{
		"title":       "Checkout latency spike",
		"description": "p99 latency above 2s on the checkout service",
		"severity":    "high",
	}
	if overrides.Title != "" {
		payload["title"] = overrides.Title
	}
	if overrides.Description != "" {
		payload["description"] = overrides.Description
	}
	if overrides.Severity != "" {
		payload["severity"] = overrides.Severity
	}
	if overrides.Assignee != nil {
		payload["assignee"] = *overrides.Assignee
	}
	if overrides.Tags != nil {
		payload["tags"] = overrides.Tags
	}

	resp, err := client.POST("/api/v1/incidents", payload)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	return decodeData[domain.Incident](t, resp)
}

// createTestRule creates an alert rule via the API and returns it.
func createTestRule(t *testing.T, client *testutil.Client, payload map[string]any) domain.AlertRule {
	t.Helper()

	resp, err := client.POST("/api/v1/rules", payload)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	return decodeData[domain.AlertRule](t, resp)
}

// decodeData unwraps the {"data": ...} envelope into T.
func decodeData[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var envelope struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope.Data
}

// decodeErrorMessage extracts the error message from an error response.
func decodeErrorMessage(t *testing.T, resp *http.Response) string {
	t.Helper()

	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope.Error.Message
}
