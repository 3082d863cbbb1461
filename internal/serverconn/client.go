package serverconn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is the control-channel connection to a single tool server. The
// channel is plain HTTP: a listing endpoint for capability discovery and an
// execute endpoint for invocations. Whatever protocol the server speaks
// internally is its own business.
type Client interface {
	// ListTools fetches the server's capability list.
	ListTools(ctx context.Context) ([]ToolDescriptor, error)

	// Execute forwards a single invocation and returns the server's reply.
	Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error)

	// Probe checks whether the server is accepting requests.
	Probe(ctx context.Context) error
}

// ToolDescriptor is one entry of a server's capability list, exactly as the
// server reports it (no namespacing applied yet).
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ExecuteRequest is the body of an execute call. Arguments is the opaque
// serialized payload supplied by the caller; it is passed through verbatim.
type ExecuteRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ExecuteResponse is the server's reply to an execute call. The ID must echo
// the request's ID.
type ExecuteResponse struct {
	ID     string `json:"id"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

type toolListResponse struct {
	Tools []ToolDescriptor `json:"tools"`
}

// DefaultCallTimeout bounds every outbound control-channel call.
const DefaultCallTimeout = 30 * time.Second

// HTTPClient talks to a tool server over its HTTP control channel.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a control-channel client for the server at baseURL
// (e.g. "http://localhost:8731"). A non-positive timeout falls back to
// DefaultCallTimeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// ListTools fetches the capability list from GET /tools.
func (c *HTTPClient) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tools", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach tool server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("tool server returned status %d: %s", resp.StatusCode, string(body))
	}

	var list toolListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode tool list: %w", err)
	}

	return list.Tools, nil
}

// Execute forwards an invocation to POST /execute.
func (c *HTTPClient) Execute(ctx context.Context, execReq ExecuteRequest) (*ExecuteResponse, error) {
	body, err := json.Marshal(execReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execute request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach tool server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("tool server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var execResp ExecuteResponse
	if err := json.NewDecoder(resp.Body).Decode(&execResp); err != nil {
		return nil, fmt.Errorf("failed to decode execute response: %w", err)
	}

	return &execResp, nil
}

// Probe checks readiness by hitting the listing endpoint. Any well-formed
// 200 response counts as ready.
func (c *HTTPClient) Probe(ctx context.Context) error {
	_, err := c.ListTools(ctx)
	return err
}

// BaseURL returns the server's control-channel base URL.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}
