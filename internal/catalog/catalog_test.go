package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"toolctl/internal/registry"
	"toolctl/internal/serverconn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer is a scriptable control-channel client keyed by address.
type fakeServer struct {
	mu    sync.Mutex
	tools []serverconn.ToolDescriptor
	err   error
}

func (f *fakeServer) ListTools(ctx context.Context) ([]serverconn.ToolDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.tools, nil
}

func (f *fakeServer) Execute(ctx context.Context, req serverconn.ExecuteRequest) (*serverconn.ExecuteResponse, error) {
	return &serverconn.ExecuteResponse{ID: req.ID}, nil
}

func (f *fakeServer) Probe(ctx context.Context) error {
	return f.err
}

func (f *fakeServer) setError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// testFixture wires a registry whose dialer hands out fakes by address.
type testFixture struct {
	registry *registry.Registry
	servers  map[string]*fakeServer
}

func newFixture() *testFixture {
	f := &testFixture{servers: make(map[string]*fakeServer)}
	dial := func(name, address string) serverconn.Client {
		if srv, ok := f.servers[address]; ok {
			return srv
		}
		return &fakeServer{err: errors.New("no such server")}
	}
	f.registry = registry.NewRegistry(registry.NewMemoryStore(), dial)
	return f
}

func (f *testFixture) addServer(t *testing.T, name string, tools ...serverconn.ToolDescriptor) *fakeServer {
	t.Helper()
	address := "http://fake/" + name
	srv := &fakeServer{tools: tools}
	f.servers[address] = srv
	_, err := f.registry.RegisterDiscovered(name, address)
	require.NoError(t, err)
	return srv
}

func descriptor(name, description, params string) serverconn.ToolDescriptor {
	d := serverconn.ToolDescriptor{Name: name, Description: description}
	if params != "" {
		d.Parameters = json.RawMessage(params)
	}
	return d
}

func TestRefresh_NamespacesWithoutDeduplication(t *testing.T) {
	f := newFixture()
	f.addServer(t, "A", descriptor("x", "does x", ""))
	f.addServer(t, "B", descriptor("x", "also does x", ""))

	cat := New(f.registry)
	descriptors := cat.Refresh(context.Background())

	require.Len(t, descriptors, 2)
	names := []string{descriptors[0].QualifiedName, descriptors[1].QualifiedName}
	assert.Equal(t, []string{"A.x", "B.x"}, names)

	a, found := cat.Find("A.x")
	require.True(t, found)
	assert.Equal(t, "[A] does x", a.Description)

	b, found := cat.Find("B.x")
	require.True(t, found)
	assert.Equal(t, "[B] also does x", b.Description)
}

func TestRefresh_FailedServerIsIsolated(t *testing.T) {
	f := newFixture()
	f.addServer(t, "A", descriptor("read", "reads", ""))
	b := f.addServer(t, "B", descriptor("run", "runs", ""))

	cat := New(f.registry)
	cat.Refresh(context.Background())
	assert.Len(t, cat.List(), 2)

	// B goes dark; the next refresh drops its tools and keeps A's.
	b.setError(errors.New("connection refused"))
	cat.Refresh(context.Background())

	list := cat.List()
	require.Len(t, list, 1)
	assert.Equal(t, "A.read", list[0].QualifiedName)

	_, found := cat.Find("B.run")
	assert.False(t, found, "snapshot is replaced, not merged")
}

func TestRefresh_SkipsToolWithBadSchema(t *testing.T) {
	f := newFixture()
	f.addServer(t, "A",
		descriptor("good", "works", `{"type":"object"}`),
		descriptor("bad", "broken", `{"type":"tuple"}`),
	)

	cat := New(f.registry)
	cat.Refresh(context.Background())

	list := cat.List()
	require.Len(t, list, 1)
	assert.Equal(t, "A.good", list[0].QualifiedName)
}

func TestRefresh_ParsesParameterSchema(t *testing.T) {
	f := newFixture()
	f.addServer(t, "files", descriptor("read_file", "Read a file", `{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"]
	}`))

	cat := New(f.registry)
	cat.Refresh(context.Background())

	d, found := cat.Find("files.read_file")
	require.True(t, found)
	require.NotNil(t, d.Parameters)
	assert.Contains(t, d.Parameters.Properties, "path")
	assert.Equal(t, []string{"path"}, d.Parameters.Required)
}

func TestListAndFind_BeforeFirstRefresh(t *testing.T) {
	cat := New(newFixture().registry)

	assert.Empty(t, cat.List())
	_, found := cat.Find("anything")
	assert.False(t, found)
}

func TestFunctions_ExportShape(t *testing.T) {
	f := newFixture()
	f.addServer(t, "files", descriptor("read_file", "Read a file", `{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"]
	}`))

	cat := New(f.registry)
	cat.Refresh(context.Background())

	decls := cat.Functions()
	require.Len(t, decls, 1)
	assert.Equal(t, "function", decls[0].Type)
	assert.Equal(t, "files.read_file", decls[0].Function.Name)
	assert.Equal(t, "[files] Read a file", decls[0].Function.Description)

	// The export must serialize in the wire shape the agent expects.
	data, err := json.Marshal(decls[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "function",
		"function": {
			"name": "files.read_file",
			"description": "[files] Read a file",
			"parameters": {
				"type": "object",
				"properties": {"path": {"type": "string"}},
				"required": ["path"]
			}
		}
	}`, string(data))
}
