// Package hass adapts the Home Assistant REST and WebSocket APIs to the
// collaborator interfaces the tracker consumes: entity state reads,
// state-change subscriptions, notifications, and event emission.
package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client calls the Home Assistant REST API with a long-lived access token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *slog.Logger
}

// NewClient creates a REST client for the Home Assistant instance at baseURL.
func NewClient(baseURL, token string, log *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// State reads an entity's current value. The "unavailable" and "unknown"
// sentinel states are reported as not available.
func (c *Client) State(ctx context.Context, entityID string) (string, bool, error) {
	body, err := c.get(ctx, "/api/states/"+entityID)
	if err != nil {
		return "", false, err
	}

	var resp struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", false, fmt.Errorf("decoding state of %s: %w", entityID, err)
	}

	if resp.State == "unavailable" || resp.State == "unknown" {
		return resp.State, false, nil
	}
	return resp.State, true, nil
}

// Notify creates or replaces a persistent notification. notificationID
// deduplicates: re-sending with the same ID replaces the existing one.
func (c *Client) Notify(ctx context.Context, title, message, notificationID string) error {
	payload := map[string]any{
		"title":           title,
		"message":         message,
		"notification_id": notificationID,
	}
	_, err := c.post(ctx, "/api/services/persistent_notification/create", payload)
	return err
}

// FireEvent fires a custom event on the Home Assistant event bus.
func (c *Client) FireEvent(ctx context.Context, event string, payload map[string]any) error {
	_, err := c.post(ctx, "/api/events/"+event, payload)
	return err
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("home assistant request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("home assistant %s %s failed (status %d): %s",
			req.Method, req.URL.Path, resp.StatusCode, body)
	}
	return body, nil
}
