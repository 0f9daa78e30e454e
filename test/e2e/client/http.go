// Package client provides test clients for e2e scenarios.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/c360studio/rxpilot/erx"
	refillagent "github.com/c360studio/rxpilot/processor/refill-agent"
	"github.com/c360studio/rxpilot/refill"
)

// HTTPClient provides HTTP operations for e2e tests. It talks to the
// refill-agent API and the command dispatcher gateway, both served by
// the service manager.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP client for e2e testing.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// MessageRequest represents a user message sent via the gateway.
type MessageRequest struct {
	Content     string `json:"content"`
	UserID      string `json:"user_id,omitempty"`
	ChannelType string `json:"channel_type,omitempty"`
	ChannelID   string `json:"channel_id,omitempty"`
}

// MessageResponse represents the response from the gateway.
type MessageResponse struct {
	ResponseID string `json:"response_id,omitempty"`
	Type       string `json:"type"`
	Content    string `json:"content"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
}

// SendMessage sends a user message via the HTTP gateway.
func (c *HTTPClient) SendMessage(ctx context.Context, content string) (*MessageResponse, error) {
	return c.SendMessageWithOptions(ctx, content, "e2e", fmt.Sprintf("e2e-%d", time.Now().UnixNano()), "e2e-runner")
}

// SendMessageWithOptions sends a user message with custom options.
func (c *HTTPClient) SendMessageWithOptions(ctx context.Context, content, channelType, channelID, userID string) (*MessageResponse, error) {
	req := MessageRequest{
		Content:     content,
		UserID:      userID,
		ChannelType: channelType,
		ChannelID:   channelID,
	}

	var msgResp MessageResponse
	if err := c.postJSON(ctx, "/agentic-dispatch/message", req, &msgResp); err != nil {
		return nil, err
	}
	return &msgResp, nil
}

// RunTurn runs one conversation turn through the refill-agent API.
// An empty sessionID starts a new conversation.
func (c *HTTPClient) RunTurn(ctx context.Context, sessionID, patientID, text string) (*refill.TurnResult, error) {
	req := refillagent.TurnBody{
		SessionID: sessionID,
		PatientID: patientID,
		Text:      text,
	}

	var result refill.TurnResult
	if err := c.postJSON(ctx, "/api/rxpilot/turns", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetSession retrieves the redacted summary of one session.
func (c *HTTPClient) GetSession(ctx context.Context, sessionID string) (*refill.Summary, error) {
	var summary refill.Summary
	if err := c.getJSON(ctx, "/api/rxpilot/sessions/"+url.PathEscape(sessionID), &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// ListSessions retrieves summaries of all active sessions.
func (c *HTTPClient) ListSessions(ctx context.Context) (*refillagent.SessionListResponse, error) {
	var list refillagent.SessionListResponse
	if err := c.getJSON(ctx, "/api/rxpilot/sessions", &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// ResetSession returns a session to the start state.
func (c *HTTPClient) ResetSession(ctx context.Context, sessionID string) (*refill.Summary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/api/rxpilot/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	var summary refill.Summary
	if err := c.do(req, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// ListOrders retrieves submitted orders, optionally filtered by patient.
func (c *HTTPClient) ListOrders(ctx context.Context, patientID string) (*refillagent.OrderListResponse, error) {
	path := "/api/rxpilot/orders"
	if patientID != "" {
		path += "?patient_id=" + url.QueryEscape(patientID)
	}

	var list refillagent.OrderListResponse
	if err := c.getJSON(ctx, path, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// TrackOrder retrieves one order by id.
func (c *HTTPClient) TrackOrder(ctx context.Context, orderID string) (*erx.OrderRecord, error) {
	var record erx.OrderRecord
	if err := c.getJSON(ctx, "/api/rxpilot/orders/"+url.PathEscape(orderID), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Health retrieves the component health report.
func (c *HTTPClient) Health(ctx context.Context) (*refillagent.HealthResponse, error) {
	var health refillagent.HealthResponse
	if err := c.getJSON(ctx, "/api/rxpilot/healthz", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// HealthCheck returns nil when the refill agent reports healthy.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	health, err := c.Health(ctx)
	if err != nil {
		return err
	}
	if health.Status != "ok" {
		return fmt.Errorf("unhealthy: %s", health.Status)
	}
	return nil
}

// WaitForHealthy polls the health endpoint until it reports healthy or
// the context expires.
func (c *HTTPClient) WaitForHealthy(ctx context.Context) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastErr error
	for {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("service never became healthy: %w (last: %v)", ctx.Err(), lastErr)
			}
			return fmt.Errorf("service never became healthy: %w", ctx.Err())
		case <-ticker.C:
			if err := c.HealthCheck(ctx); err != nil {
				lastErr = err
				continue
			}
			return nil
		}
	}
}

// postJSON sends a POST with a JSON body and decodes the JSON response.
func (c *HTTPClient) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

// getJSON sends a GET and decodes the JSON response.
func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w (body: %s)", err, string(body))
	}
	return nil
}
