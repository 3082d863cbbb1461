package agentclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// Client talks to a running aggregated endpoint the way a calling agent
// would: over the MCP SSE transport. The CLI uses it so 'tool list' and
// 'tool call' can exercise a live session instead of recorded state.
type Client struct {
	endpoint string
	client   client.MCPClient
	timeout  time.Duration
}

// New creates a client for the given endpoint. The /sse path is appended
// when missing.
func New(endpoint string) *Client {
	if !strings.HasSuffix(endpoint, "/sse") {
		endpoint = strings.TrimRight(endpoint, "/") + "/sse"
	}
	return &Client{
		endpoint: endpoint,
		timeout:  30 * time.Second,
	}
}

// Connect starts the SSE transport and performs the protocol handshake.
func (c *Client) Connect(ctx context.Context) error {
	sseClient, err := client.NewSSEMCPClient(c.endpoint)
	if err != nil {
		return fmt.Errorf("failed to create SSE client: %w", err)
	}
	c.client = sseClient

	if err := sseClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start SSE client: %w", err)
	}

	if err := c.initialize(ctx); err != nil {
		sseClient.Close()
		c.client = nil
		return fmt.Errorf("initialization failed: %w", err)
	}

	return nil
}

func (c *Client) initialize(ctx context.Context) error {
	req := mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: "2024-11-05",
			ClientInfo: mcp.Implementation{
				Name:    "toolctl-cli",
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.client.Initialize(timeoutCtx, req)
	return err
}

// ListTools returns the tools the endpoint currently publishes.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if c.client == nil {
		return nil, fmt.Errorf("client not connected")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.client.ListTools(timeoutCtx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return result.Tools, nil
}

// CallToolText calls one tool and returns its text content. A tool-level
// error result comes back as an error.
func (c *Client) CallToolText(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("client not connected")
	}

	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.client.CallTool(timeoutCtx, req)
	if err != nil {
		return "", fmt.Errorf("tool call failed: %w", err)
	}

	text := resultText(result)
	if result.IsError {
		return "", fmt.Errorf("tool error: %s", text)
	}
	return text, nil
}

// Close shuts down the transport. Safe to call when never connected.
func (c *Client) Close() error {
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	return nil
}

func resultText(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if textContent, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, textContent.Text)
		}
	}
	return strings.Join(parts, "\n")
}
