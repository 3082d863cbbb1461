package router

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"toolctl/internal/catalog"
	"toolctl/internal/registry"
	"toolctl/internal/serverconn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spyClient records every control-channel call so tests can assert that no
// network traffic happened.
type spyClient struct {
	listCalls    int
	executeCalls int

	tools       []serverconn.ToolDescriptor
	executeResp *serverconn.ExecuteResponse
	executeErr  error
}

func (s *spyClient) ListTools(ctx context.Context) ([]serverconn.ToolDescriptor, error) {
	s.listCalls++
	return s.tools, nil
}

func (s *spyClient) Execute(ctx context.Context, req serverconn.ExecuteRequest) (*serverconn.ExecuteResponse, error) {
	s.executeCalls++
	if s.executeErr != nil {
		return nil, s.executeErr
	}
	if s.executeResp != nil {
		return s.executeResp, nil
	}
	return &serverconn.ExecuteResponse{ID: req.ID, Result: "ok:" + req.Name}, nil
}

func (s *spyClient) Probe(ctx context.Context) error {
	return nil
}

func newTestRegistry(t *testing.T, servers map[string]*spyClient) *registry.Registry {
	t.Helper()

	byAddress := make(map[string]*spyClient)
	dial := func(name, address string) serverconn.Client {
		return byAddress[address]
	}

	reg := registry.NewRegistry(registry.NewMemoryStore(), dial)
	for name, spy := range servers {
		address := "http://fake/" + name
		byAddress[address] = spy
		_, err := reg.RegisterDiscovered(name, address)
		require.NoError(t, err)
	}
	return reg
}

func TestInvoke_Success(t *testing.T) {
	spy := &spyClient{}
	reg := newTestRegistry(t, map[string]*spyClient{"A": spy})
	r := New(reg, nil)

	result := r.Invoke(context.Background(), InvocationRequest{
		ID:            "1",
		QualifiedName: "A.x",
		Arguments:     "{}",
	})

	assert.False(t, result.Failed())
	assert.Equal(t, "1", result.ID)
	assert.Equal(t, "ok:x", result.Output)
	assert.Equal(t, 1, spy.executeCalls)
}

func TestInvoke_MalformedName(t *testing.T) {
	spy := &spyClient{}
	reg := newTestRegistry(t, map[string]*spyClient{"A": spy})
	r := New(reg, nil)

	for _, name := range []string{"noSeparator", ".x", "A.", "", "."} {
		t.Run("name="+name, func(t *testing.T) {
			result := r.Invoke(context.Background(), InvocationRequest{
				ID:            "2",
				QualifiedName: name,
				Arguments:     "{}",
			})

			assert.Equal(t, FailureMalformedName, result.Kind)
			assert.Equal(t, "2", result.ID)
			assert.Empty(t, result.Output)
		})
	}

	assert.Zero(t, spy.executeCalls, "malformed names must not reach the network")
}

func TestInvoke_UnknownServer(t *testing.T) {
	reg := newTestRegistry(t, map[string]*spyClient{"A": {}})
	r := New(reg, nil)

	result := r.Invoke(context.Background(), InvocationRequest{
		ID:            "3",
		QualifiedName: "ghost.x",
		Arguments:     "{}",
	})

	assert.Equal(t, FailureUnknownServer, result.Kind)
	assert.Contains(t, result.Failure, `"ghost"`)
}

func TestInvoke_TransportError(t *testing.T) {
	spy := &spyClient{executeErr: errors.New("connection refused")}
	reg := newTestRegistry(t, map[string]*spyClient{"A": spy})
	r := New(reg, nil)

	result := r.Invoke(context.Background(), InvocationRequest{
		ID:            "4",
		QualifiedName: "A.x",
		Arguments:     "{}",
	})

	assert.Equal(t, FailureTransport, result.Kind)
	assert.Contains(t, result.Failure, "connection refused")
	assert.Equal(t, 1, spy.executeCalls, "a transport failure is never retried")
}

func TestInvoke_ProtocolViolation(t *testing.T) {
	spy := &spyClient{executeResp: &serverconn.ExecuteResponse{ID: "different", Result: "x"}}
	reg := newTestRegistry(t, map[string]*spyClient{"A": spy})
	r := New(reg, nil)

	result := r.Invoke(context.Background(), InvocationRequest{
		ID:            "5",
		QualifiedName: "A.x",
		Arguments:     "{}",
	})

	assert.Equal(t, FailureProtocolViolation, result.Kind)
	assert.Empty(t, result.Output)
}

func TestInvoke_ServerReportedFailure(t *testing.T) {
	spy := &spyClient{executeResp: &serverconn.ExecuteResponse{ID: "6", Error: "tool exploded"}}
	reg := newTestRegistry(t, map[string]*spyClient{"A": spy})
	r := New(reg, nil)

	result := r.Invoke(context.Background(), InvocationRequest{
		ID:            "6",
		QualifiedName: "A.x",
		Arguments:     "{}",
	})

	assert.True(t, result.Failed())
	assert.Equal(t, "tool exploded", result.Failure)
	assert.Empty(t, result.Kind, "a server-reported failure is passed through verbatim")
}

func TestInvoke_SchemaValidation(t *testing.T) {
	spy := &spyClient{
		tools: []serverconn.ToolDescriptor{{
			Name:        "read_file",
			Description: "Read a file",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {"path": {"type": "string"}},
				"required": ["path"]
			}`),
		}},
	}
	reg := newTestRegistry(t, map[string]*spyClient{"files": spy})
	cat := catalog.New(reg)
	cat.Refresh(context.Background())
	r := New(reg, cat)

	// Missing required argument is rejected before any call goes out.
	executeCallsBefore := spy.executeCalls
	result := r.Invoke(context.Background(), InvocationRequest{
		ID:            "7",
		QualifiedName: "files.read_file",
		Arguments:     `{}`,
	})
	assert.Equal(t, FailureInvalidArguments, result.Kind)
	assert.Contains(t, result.Failure, `missing required argument "path"`)
	assert.Equal(t, executeCallsBefore, spy.executeCalls)

	// Non-object payload is rejected too.
	result = r.Invoke(context.Background(), InvocationRequest{
		ID:            "8",
		QualifiedName: "files.read_file",
		Arguments:     `[1,2]`,
	})
	assert.Equal(t, FailureInvalidArguments, result.Kind)

	// A valid payload goes through.
	result = r.Invoke(context.Background(), InvocationRequest{
		ID:            "9",
		QualifiedName: "files.read_file",
		Arguments:     `{"path":"/tmp/x"}`,
	})
	assert.False(t, result.Failed())
	assert.Equal(t, "ok:read_file", result.Output)
}

func TestInvoke_UnknownToolSkipsValidation(t *testing.T) {
	spy := &spyClient{}
	reg := newTestRegistry(t, map[string]*spyClient{"A": spy})
	cat := catalog.New(reg)
	r := New(reg, cat)

	// The catalog has never seen A.mystery; the call is forwarded as-is
	// and the server decides.
	result := r.Invoke(context.Background(), InvocationRequest{
		ID:            "10",
		QualifiedName: "A.mystery",
		Arguments:     `{"anything":"goes"}`,
	})

	assert.False(t, result.Failed())
	assert.Equal(t, 1, spy.executeCalls)
}
