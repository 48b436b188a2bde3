// Package sms provides SMS notification sending through an HTTP gateway.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/opsrelay/incident-backend/internal/domain"
	"github.com/opsrelay/incident-backend/internal/notifications"
)

const defaultTimeout = 10 * time.Second

// Config holds SMS sender configuration.
type Config struct {
	Enabled    bool
	GatewayURL string
	APIKey     string
	FromNumber string
	// RatePerSecond caps outbound gateway calls; most SMS providers
	// throttle hard and drop anything above their limit.
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
}

// Sender implements SMS notification sending via an HTTP gateway API.
type Sender struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewSender creates a new SMS sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config) (*Sender, error) {
	if config.Enabled {
		if config.GatewayURL == "" {
			return nil, errors.New("sms sender: gateway URL is required when enabled")
		}
		if config.FromNumber == "" {
			return nil, errors.New("sms sender: from number is required when enabled")
		}
	}

	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.RatePerSecond == 0 {
		config.RatePerSecond = 10
	}
	if config.Burst == 0 {
		config.Burst = 20
	}

	slog.Info("sms sender configured",
		"enabled", config.Enabled,
		"gateway_url", config.GatewayURL,
		"rate_per_second", config.RatePerSecond,
		"burst", config.Burst,
	)

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RatePerSecond), config.Burst),
	}, nil
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypeSMS
}

// gatewayRequest is the gateway API request body.
type gatewayRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

// Send sends an SMS notification to a single recipient. The subject is
// dropped; SMS carries only the body.
func (s *Sender) Send(ctx context.Context, notification notifications.Notification) error {
	if !s.config.Enabled {
		slog.Warn("sms sender disabled, skipping send", "to", notification.To)
		return nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return notifications.NewRetryableError(fmt.Errorf("rate limit wait: %w", err))
	}

	payload, err := json.Marshal(gatewayRequest{
		From: s.config.FromNumber,
		To:   notification.To,
		Body: notification.Body,
	})
	if err != nil {
		return notifications.NewNonRetryableError(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.GatewayURL, bytes.NewReader(payload))
	if err != nil {
		return notifications.NewNonRetryableError(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return notifications.NewRetryableError(fmt.Errorf("gateway request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	sendErr := fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(body))

	// 429 and 5xx are temporary; other 4xx means the request itself is bad
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return notifications.NewRetryableError(sendErr)
	}
	return notifications.NewNonRetryableError(sendErr)
}
