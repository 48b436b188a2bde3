//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MailpitClient talks to the Mailpit REST API during email tests.
type MailpitClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewMailpitClient creates a client for the given Mailpit API host and port.
func NewMailpitClient(host string, port int) *MailpitClient {
	return &MailpitClient{
		baseURL:    fmt.Sprintf("http://%s:%d", host, port),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// MailpitAddress is a single address in a captured message.
type MailpitAddress struct {
	Name    string `json:"Name"`
	Address string `json:"Address"`
}

// MailpitMessage is a message summary from the Mailpit API.
type MailpitMessage struct {
	ID      string           `json:"ID"`
	From    MailpitAddress   `json:"From"`
	To      []MailpitAddress `json:"To"`
	Cc      []MailpitAddress `json:"Cc"`
	Bcc     []MailpitAddress `json:"Bcc"`
	Subject string           `json:"Subject"`
	Snippet string           `json:"Snippet"`
	Text    string           `json:"Text"`
	HTML    string           `json:"HTML"`
}

// AllRecipients returns every To, Cc, and Bcc address of the message.
func (m *MailpitMessage) AllRecipients() []string {
	var out []string
	for _, a := range m.To {
		out = append(out, a.Address)
	}
	for _, a := range m.Cc {
		out = append(out, a.Address)
	}
	for _, a := range m.Bcc {
		out = append(out, a.Address)
	}
	return out
}

type messagesResponse struct {
	Messages      []MailpitMessage `json:"messages"`
	MessagesCount int              `json:"messages_count"`
}

// GetMessages lists all captured messages, newest first.
func (c *MailpitClient) GetMessages(ctx context.Context) ([]MailpitMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/messages", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mailpit list messages: status %d", resp.StatusCode)
	}

	var payload messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode mailpit response: %w", err)
	}
	return payload.Messages, nil
}

// GetMessageText fetches the plain-text body of one message.
func (c *MailpitClient) GetMessageText(ctx context.Context, id string) (string, error) {
	url := fmt.Sprintf("%s/api/v1/message/%s", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mailpit get message: status %d", resp.StatusCode)
	}

	var detail struct {
		Text string `json:"Text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return "", fmt.Errorf("decode mailpit message: %w", err)
	}
	return detail.Text, nil
}

// DeleteAllMessages clears the Mailpit mailbox.
func (c *MailpitClient) DeleteAllMessages(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/v1/messages", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mailpit delete messages: status %d", resp.StatusCode)
	}
	return nil
}
