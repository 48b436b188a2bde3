// Package webhook provides notification delivery to HTTP callback endpoints.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opsrelay/incident-backend/internal/domain"
	"github.com/opsrelay/incident-backend/internal/notifications"
)

const defaultTimeout = 10 * time.Second

// Signature headers sent with every request. Receivers verify the body
// with HMAC-SHA256 over the raw payload using the shared secret.
const (
	headerSignature = "X-Signature-SHA256"
	headerDedupeKey = "X-Dedupe-Key"
	headerSubject   = "X-Notification-Subject"
)

// Config holds webhook sender configuration.
type Config struct {
	Enabled bool
	// SigningSecret signs outgoing payloads. Empty disables signing.
	SigningSecret string
	Timeout       time.Duration
	UserAgent     string
}

// Sender posts notification payloads to recipient URLs.
type Sender struct {
	config     Config
	httpClient *http.Client
}

// NewSender creates a new webhook sender.
func NewSender(config Config) *Sender {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.UserAgent == "" {
		config.UserAgent = "opsrelay-webhook/1.0"
	}

	slog.Info("webhook sender configured",
		"enabled", config.Enabled,
		"signing", config.SigningSecret != "",
	)

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypeWebhook
}

// Send posts the notification body (a JSON payload) to the recipient
// URL. The dedupe key travels in a header so receivers can drop
// redeliveries themselves.
func (s *Sender) Send(ctx context.Context, notification notifications.Notification) error {
	if !s.config.Enabled {
		slog.Warn("webhook sender disabled, skipping send", "url", notification.To)
		return nil
	}

	if !strings.HasPrefix(notification.To, "http://") && !strings.HasPrefix(notification.To, "https://") {
		return notifications.NewNonRetryableError(fmt.Errorf("invalid webhook url: %s", notification.To))
	}

	body := []byte(notification.Body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, notification.To, strings.NewReader(notification.Body))
	if err != nil {
		return notifications.NewNonRetryableError(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.config.UserAgent)
	req.Header.Set(headerSubject, notification.Subject)
	if notification.DedupeKey != "" {
		req.Header.Set(headerDedupeKey, notification.DedupeKey)
	}
	if s.config.SigningSecret != "" {
		req.Header.Set(headerSignature, sign(s.config.SigningSecret, body))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return notifications.NewRetryableError(fmt.Errorf("post webhook: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	sendErr := fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(respBody))

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return notifications.NewRetryableError(sendErr)
	}
	return notifications.NewNonRetryableError(sendErr)
}

// sign computes the hex HMAC-SHA256 of the payload.
func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
