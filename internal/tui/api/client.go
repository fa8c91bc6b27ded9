// Package api provides the HTTP client the operator console uses to talk
// to a running responder.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client handles API communication with the responder backend.
type Client struct {
	baseURL    string
	apiKey     string
	operator   string
	httpClient *http.Client
}

// Health mirrors the responder's /health payload.
type Health struct {
	Status         string `json:"status"`
	ActiveBlocks   int    `json:"active_blocks"`
	PendingActions int    `json:"pending_actions"`
	HistoryEntries int    `json:"history_entries"`
	PolicyRevision uint64 `json:"policy_revision"`
}

// Alert carries the alert fields the console displays.
type Alert struct {
	AlertType  string  `json:"alert_type"`
	SourceIP   string  `json:"source_ip,omitempty"`
	TargetIP   string  `json:"target_ip,omitempty"`
	Severity   string  `json:"severity"`
	Confidence float64 `json:"confidence"`
}

// PendingAction is one queued manual action awaiting a decision.
type PendingAction struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	DecidedBy string    `json:"decided_by,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
	Alert     Alert     `json:"alert"`
	Config    struct {
		ActionType string `json:"action_type"`
		TTLMinutes int    `json:"ttl_minutes"`
	} `json:"config"`
}

// ActiveBlock is one enforced network restriction.
type ActiveBlock struct {
	Target     string     `json:"target"`
	ActionType string     `json:"action_type"`
	AlertType  string     `json:"alert_type"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// HistoryEntry is one audit record.
type HistoryEntry struct {
	Seq        uint64    `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`
	ActionType string    `json:"action_type"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	Error      string    `json:"error,omitempty"`
	Alert      Alert     `json:"alert"`
}

// apiError mirrors the responder's error envelope.
type apiError struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient creates a new API client. apiKey and operator may be empty.
func NewClient(baseURL, apiKey, operator string) *Client {
	return &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		operator: operator,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (c *Client) do(method, path string, out any) error {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if c.operator != "" {
		req.Header.Set("X-Operator", c.operator)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%s: %s", apiErr.Error.Kind, apiErr.Error.Message)
		}
		return fmt.Errorf("backend returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GetHealth fetches responder health.
func (c *Client) GetHealth() (*Health, error) {
	var health Health
	if err := c.do(http.MethodGet, "/health", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// GetPendingActions fetches manual actions filtered by status. An empty
// status returns all of them.
func (c *Client) GetPendingActions(status string) ([]PendingAction, error) {
	path := "/alert-actions/pending-actions"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var actions []PendingAction
	if err := c.do(http.MethodGet, path, &actions); err != nil {
		return nil, err
	}
	return actions, nil
}

// ApproveAction approves a pending action and triggers its execution.
func (c *Client) ApproveAction(id string) (*PendingAction, error) {
	var action PendingAction
	if err := c.do(http.MethodPost, "/alert-actions/approve-action/"+url.PathEscape(id), &action); err != nil {
		return nil, err
	}
	return &action, nil
}

// RejectAction rejects a pending action.
func (c *Client) RejectAction(id string) (*PendingAction, error) {
	var action PendingAction
	if err := c.do(http.MethodPost, "/alert-actions/reject-action/"+url.PathEscape(id), &action); err != nil {
		return nil, err
	}
	return &action, nil
}

// GetActiveBlocks fetches currently enforced blocks.
func (c *Client) GetActiveBlocks() ([]ActiveBlock, error) {
	var blocks []ActiveBlock
	if err := c.do(http.MethodGet, "/alert-actions/active-blocks", &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

// UnblockIP lifts every restriction on a target.
func (c *Client) UnblockIP(ip string) error {
	return c.do(http.MethodDelete, "/alert-actions/unblock-ip/"+url.PathEscape(ip), nil)
}

// GetHistory fetches the newest audit entries.
func (c *Client) GetHistory(limit int) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	path := fmt.Sprintf("/alert-actions/action-history?limit=%d", limit)
	if err := c.do(http.MethodGet, path, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
