package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"toolctl/internal/catalog"
	"toolctl/internal/registry"
	"toolctl/internal/serverconn"
	"toolctl/pkg/logging"
)

// FailureKind tags an orchestrator-level invocation failure.
type FailureKind string

const (
	// FailureMalformedName: the qualified name has no separator or an
	// empty component. Caller error, not retryable.
	FailureMalformedName FailureKind = "MalformedName"

	// FailureUnknownServer: no registered server matches the qualifier.
	FailureUnknownServer FailureKind = "UnknownServer"

	// FailureInvalidArguments: the argument payload does not satisfy the
	// tool's parameter schema. Rejected before any network call.
	FailureInvalidArguments FailureKind = "InvalidArguments"

	// FailureTransport: network failure, timeout, or malformed response.
	// Possibly transient; the router never retries on its own.
	FailureTransport FailureKind = "TransportError"

	// FailureProtocolViolation: the server answered with a mismatched
	// correlation id.
	FailureProtocolViolation FailureKind = "ProtocolViolation"
)

// InvocationRequest is a single qualified tool call.
type InvocationRequest struct {
	// ID is the caller-supplied correlation token, echoed in the result.
	ID string

	// QualifiedName is "<server>.<local-name>".
	QualifiedName string

	// Arguments is the opaque serialized argument payload.
	Arguments string
}

// InvocationResult is the outcome of a call. Exactly one of Output and
// Failure is meaningful. Kind is set only for orchestrator-level failures;
// a failure the server itself reported carries its message verbatim with no
// kind.
type InvocationResult struct {
	ID      string
	Output  string
	Failure string
	Kind    FailureKind
}

// Failed reports whether the result carries a failure.
func (r InvocationResult) Failed() bool {
	return r.Failure != "" || r.Kind != ""
}

// Router resolves qualified names against the registry and forwards calls
// over the control channel.
type Router struct {
	registry *registry.Registry
	catalog  *catalog.Catalog
}

// New creates a router. The catalog may be nil, in which case argument
// payloads are forwarded without schema validation.
func New(reg *registry.Registry, cat *catalog.Catalog) *Router {
	return &Router{registry: reg, catalog: cat}
}

// Invoke dispatches one call and always returns a well-formed result;
// operational failures are a field of the result, never an error. Delivery
// is at-most-once: nothing is resent, retry policy belongs to the caller.
func (r *Router) Invoke(ctx context.Context, req InvocationRequest) InvocationResult {
	serverName, localName, ok := splitQualifiedName(req.QualifiedName)
	if !ok {
		return failure(req.ID, FailureMalformedName,
			fmt.Sprintf("invalid qualified name %q: want \"<server>.<tool>\"", req.QualifiedName))
	}

	record, exists := r.registry.Lookup(serverName)
	if !exists {
		return failure(req.ID, FailureUnknownServer,
			fmt.Sprintf("unknown server %q", serverName))
	}

	if result, ok := r.checkArguments(req); !ok {
		return result
	}

	resp, err := record.Client.Execute(ctx, serverconn.ExecuteRequest{
		ID:        req.ID,
		Name:      localName,
		Arguments: req.Arguments,
	})
	if err != nil {
		logging.Warn("Router", "Call %s to %s failed: %v", req.QualifiedName, record.Address, err)
		return failure(req.ID, FailureTransport, err.Error())
	}

	if resp.ID != req.ID {
		return failure(req.ID, FailureProtocolViolation,
			fmt.Sprintf("server %q answered with id %q for request %q", serverName, resp.ID, req.ID))
	}

	return InvocationResult{
		ID:      req.ID,
		Output:  resp.Result,
		Failure: resp.Error,
	}
}

// checkArguments validates the payload against the catalog's schema for this
// tool, when one is known. The false return carries the failure result.
func (r *Router) checkArguments(req InvocationRequest) (InvocationResult, bool) {
	if r.catalog == nil {
		return InvocationResult{}, true
	}
	descriptor, known := r.catalog.Find(req.QualifiedName)
	if !known || descriptor.Parameters == nil {
		return InvocationResult{}, true
	}

	args := map[string]interface{}{}
	if strings.TrimSpace(req.Arguments) != "" {
		if err := json.Unmarshal([]byte(req.Arguments), &args); err != nil {
			return failure(req.ID, FailureInvalidArguments,
				fmt.Sprintf("argument payload is not a JSON object: %v", err)), false
		}
	}

	if err := descriptor.Parameters.Validate(args); err != nil {
		return failure(req.ID, FailureInvalidArguments, err.Error()), false
	}

	return InvocationResult{}, true
}

func splitQualifiedName(qualified string) (serverName, localName string, ok bool) {
	idx := strings.Index(qualified, ".")
	if idx <= 0 || idx == len(qualified)-1 {
		return "", "", false
	}
	return qualified[:idx], qualified[idx+1:], true
}

func failure(id string, kind FailureKind, message string) InvocationResult {
	return InvocationResult{
		ID:      id,
		Failure: message,
		Kind:    kind,
	}
}
