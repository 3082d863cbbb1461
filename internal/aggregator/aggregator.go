package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"toolctl/internal/catalog"
	"toolctl/internal/router"
	"toolctl/pkg/logging"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Backend is the slice of the orchestrator the aggregator needs: a catalog
// it can refresh and a router it can dispatch calls through.
type Backend interface {
	Refresh(ctx context.Context) []catalog.CapabilityDescriptor
	Invoke(ctx context.Context, req router.InvocationRequest) router.InvocationResult
}

// Options configures the aggregator endpoint.
type Options struct {
	Host string
	Port int

	// RefreshInterval re-polls the backend catalog periodically so tools
	// added or removed by servers show up without a restart. Zero disables
	// the ticker; Sync can still be called manually.
	RefreshInterval time.Duration
}

// Aggregator exposes the tool catalog as a single MCP server over SSE.
// Every catalog capability becomes one MCP tool whose handler routes the
// call back through the backend.
type Aggregator struct {
	opts    Options
	backend Backend

	server     *server.MCPServer
	sseServer  *server.SSEServer
	httpServer *http.Server

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	mu     sync.Mutex
	active map[string]string
}

// New creates an aggregator in front of the given backend.
func New(backend Backend, opts Options) *Aggregator {
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	if opts.Port == 0 {
		opts.Port = 8080
	}

	return &Aggregator{
		opts:    opts,
		backend: backend,
		active:  make(map[string]string),
	}
}

// Start brings up the SSE endpoint and publishes the current catalog. The
// listener is bound synchronously so a taken port surfaces as an error here
// instead of a log line from a goroutine.
func (a *Aggregator) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.server != nil {
		a.mu.Unlock()
		return fmt.Errorf("aggregator already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancelFunc = cancel

	a.server = server.NewMCPServer(
		"toolctl-aggregator",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	baseURL := fmt.Sprintf("http://%s:%d", a.opts.Host, a.opts.Port)
	a.sseServer = server.NewSSEServer(
		a.server,
		server.WithBaseURL(baseURL),
		server.WithSSEEndpoint("/sse"),
		server.WithMessageEndpoint("/message"),
		server.WithKeepAlive(true),
		server.WithKeepAliveInterval(30*time.Second),
	)
	sseServer := a.sseServer
	a.mu.Unlock()

	a.Sync(ctx)

	addr := fmt.Sprintf("%s:%d", a.opts.Host, a.opts.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		cancel()
		a.mu.Lock()
		a.server = nil
		a.sseServer = nil
		a.cancelFunc = nil
		a.active = make(map[string]string)
		a.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	httpServer := &http.Server{Handler: sseServer}
	a.mu.Lock()
	a.httpServer = httpServer
	a.mu.Unlock()

	if a.opts.RefreshInterval > 0 {
		a.wg.Add(1)
		go a.refreshLoop(runCtx)
	}

	logging.Info("Aggregator", "Serving aggregator endpoint on %s", addr)

	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logging.Error("Aggregator", err, "SSE server error")
		}
	}()

	return nil
}

// Stop shuts down the SSE endpoint and the refresh loop, leaving the
// aggregator ready for a fresh Start.
func (a *Aggregator) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.server == nil {
		a.mu.Unlock()
		return fmt.Errorf("aggregator not started")
	}
	cancelFunc := a.cancelFunc
	httpServer := a.httpServer
	a.server = nil
	a.sseServer = nil
	a.httpServer = nil
	a.cancelFunc = nil
	a.active = make(map[string]string)
	a.mu.Unlock()

	logging.Info("Aggregator", "Stopping aggregator endpoint")

	if cancelFunc != nil {
		cancelFunc()
	}
	a.wg.Wait()

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Error("Aggregator", err, "Error shutting down SSE server")
		}
	}

	return nil
}

func (a *Aggregator) refreshLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Sync(ctx)
		}
	}
}

// fingerprint captures the published surface of a capability so Sync can
// tell a renamed schema or description from a no-op.
func fingerprint(desc catalog.CapabilityDescriptor) string {
	raw, err := json.Marshal(desc.Parameters)
	if err != nil {
		raw = []byte("{}")
	}
	return desc.Description + "\n" + string(raw)
}

// Sync refreshes the backend catalog and reconciles the published tool set
// against it: new capabilities are added, vanished ones removed, and a tool
// whose description or schema changed is re-registered under the same name.
// Additions and removals go out in batches so connected clients see one
// list-changed notification per batch.
func (a *Aggregator) Sync(ctx context.Context) {
	descriptors := a.backend.Refresh(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return
	}

	current := make(map[string]string, len(descriptors))
	var toolsToAdd []server.ServerTool
	for _, desc := range descriptors {
		fp := fingerprint(desc)
		current[desc.QualifiedName] = fp
		// Re-adding under an existing name replaces the registration, so
		// changed tools go through the same batch as new ones.
		if known, ok := a.active[desc.QualifiedName]; !ok || known != fp {
			toolsToAdd = append(toolsToAdd, a.makeServerTool(desc))
		}
	}

	var obsolete []string
	for name := range a.active {
		if _, still := current[name]; !still {
			obsolete = append(obsolete, name)
		}
	}

	if len(obsolete) > 0 {
		logging.Debug("Aggregator", "Removing %d obsolete tools", len(obsolete))
		a.server.DeleteTools(obsolete...)
	}
	if len(toolsToAdd) > 0 {
		logging.Debug("Aggregator", "Adding %d tools in batch", len(toolsToAdd))
		a.server.AddTools(toolsToAdd...)
	}

	a.active = current
}

// ActiveTools reports the qualified names currently published, sorted order
// not guaranteed.
func (a *Aggregator) ActiveTools() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	names := make([]string, 0, len(a.active))
	for name := range a.active {
		names = append(names, name)
	}
	return names
}

func (a *Aggregator) makeServerTool(desc catalog.CapabilityDescriptor) server.ServerTool {
	rawSchema, err := json.Marshal(desc.Parameters)
	if err != nil {
		rawSchema = json.RawMessage(`{"type":"object"}`)
	}

	qualifiedName := desc.QualifiedName

	return server.ServerTool{
		Tool: mcp.Tool{
			Name:           qualifiedName,
			Description:    desc.Description,
			RawInputSchema: rawSchema,
		},
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := make(map[string]interface{})
			if req.Params.Arguments != nil {
				if argsMap, ok := req.Params.Arguments.(map[string]interface{}); ok {
					args = argsMap
				}
			}

			payload, err := json.Marshal(args)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err)), nil
			}

			result := a.backend.Invoke(ctx, router.InvocationRequest{
				ID:            uuid.NewString(),
				QualifiedName: qualifiedName,
				Arguments:     string(payload),
			})
			if result.Failed() {
				return mcp.NewToolResultError(result.Failure), nil
			}

			return mcp.NewToolResultText(result.Output), nil
		},
	}
}
