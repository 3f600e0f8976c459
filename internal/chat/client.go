package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
)

// Request is the body of one streaming chat call. ConversationHistory holds
// the most recent turns only, oldest first; the new message rides separately.
type Request struct {
	Message             string `json:"message"`
	ConversationHistory []Turn `json:"conversation_history"`
	SessionID           string `json:"session_id"`
}

// Client opens event streams against the agent service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
}

// Stream POSTs req and hands back the chunked response body. The caller owns
// the body and must close it; cancelling ctx aborts the stream mid-flight.
func (c *Client) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("agent returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// Health probes the agent service.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

// Transport-failure messages shown to the user, by failure category.
const (
	msgTimeout      = "The agent took too long to respond. Please try again."
	msgConnectivity = "Could not reach the agent service. Is it running?"
	msgTransport    = "Connection to the agent was interrupted. Please try again."
)

// classifyTransport picks the user-visible message for a transport-level
// failure. Protocol-level error frames never pass through here.
func classifyTransport(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return msgTimeout
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return msgTimeout
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	var urlErr *url.Error
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return msgConnectivity
	}
	if errors.As(err, &urlErr) {
		return msgConnectivity
	}
	return msgTransport
}
