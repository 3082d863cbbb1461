package supervisor

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"toolctl/internal/config"
	"toolctl/internal/registry"
	"toolctl/internal/serverconn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// probeClient is a control-channel stub whose readiness can be scripted.
type probeClient struct {
	probeErr error
}

func (p *probeClient) ListTools(ctx context.Context) ([]serverconn.ToolDescriptor, error) {
	return nil, p.probeErr
}

func (p *probeClient) Execute(ctx context.Context, req serverconn.ExecuteRequest) (*serverconn.ExecuteResponse, error) {
	return &serverconn.ExecuteResponse{ID: req.ID}, nil
}

func (p *probeClient) Probe(ctx context.Context) error {
	return p.probeErr
}

func readyDialer(name, address string) serverconn.Client {
	return &probeClient{}
}

func neverReadyDialer(name, address string) serverconn.Client {
	return &probeClient{probeErr: errors.New("connection refused")}
}

func fastOpts() Options {
	return Options{
		ProbeAttempts: 3,
		ProbeDelay:    10 * time.Millisecond,
		ProbeMaxDelay: 50 * time.Millisecond,
	}
}

func sleepDefinition(name string) config.ToolServerDefinition {
	// The appended port argument is just another duration to sleep, so the
	// child stays alive for the whole test.
	return config.ToolServerDefinition{
		Name:    name,
		Command: []string{"sleep", "300"},
	}
}

func TestLaunch_RegistersOwnedServer(t *testing.T) {
	store := registry.NewMemoryStore()
	reg := registry.NewRegistry(store, readyDialer)
	sup := New(reg, readyDialer, fastOpts())
	defer sup.TerminateAll()

	record, err := sup.Launch(context.Background(), sleepDefinition("files"))
	require.NoError(t, err)
	assert.True(t, record.Owned())
	assert.Contains(t, record.Address, "http://127.0.0.1:")

	found, exists := reg.Lookup("files")
	require.True(t, exists)
	assert.Equal(t, record.Address, found.Address)

	// A successful launch lands in the state file.
	state, err := store.Load()
	require.NoError(t, err)
	assert.Contains(t, state, "files")
	assert.Equal(t, record.Address, state["files"].URL)
}

func TestLaunch_InvalidDefinition(t *testing.T) {
	reg := registry.NewRegistry(registry.NewMemoryStore(), readyDialer)
	sup := New(reg, readyDialer, fastOpts())

	_, err := sup.Launch(context.Background(), config.ToolServerDefinition{Name: "files"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command is required")
}

func TestLaunch_SpawnFailure(t *testing.T) {
	reg := registry.NewRegistry(registry.NewMemoryStore(), readyDialer)
	sup := New(reg, readyDialer, fastOpts())

	_, err := sup.Launch(context.Background(), config.ToolServerDefinition{
		Name:    "broken",
		Command: []string{"/nonexistent/toolsrv"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start broken")

	_, exists := reg.Lookup("broken")
	assert.False(t, exists, "a server that never started must not enter the registry")
}

func TestLaunch_ProbeExhaustion(t *testing.T) {
	reg := registry.NewRegistry(registry.NewMemoryStore(), neverReadyDialer)
	sup := New(reg, neverReadyDialer, fastOpts())

	_, err := sup.Launch(context.Background(), sleepDefinition("deaf"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready after 3 probes")

	_, exists := reg.Lookup("deaf")
	assert.False(t, exists)
}

func TestLaunch_DuplicateName(t *testing.T) {
	reg := registry.NewRegistry(registry.NewMemoryStore(), readyDialer)
	sup := New(reg, readyDialer, fastOpts())
	defer sup.TerminateAll()

	_, err := sup.Launch(context.Background(), sleepDefinition("files"))
	require.NoError(t, err)

	_, err = sup.Launch(context.Background(), sleepDefinition("files"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestExitPruning(t *testing.T) {
	reg := registry.NewRegistry(registry.NewMemoryStore(), readyDialer)
	sup := New(reg, readyDialer, fastOpts())
	defer sup.TerminateAll()

	files, err := sup.Launch(context.Background(), sleepDefinition("files"))
	require.NoError(t, err)
	_, err = sup.Launch(context.Background(), sleepDefinition("shell"))
	require.NoError(t, err)

	// Kill one server out from under the supervisor.
	require.NoError(t, syscall.Kill(-files.Proc.Pid, syscall.SIGKILL))

	assert.Eventually(t, func() bool {
		_, exists := reg.Lookup("files")
		return !exists
	}, 5*time.Second, 20*time.Millisecond, "dead server must be pruned")

	// The other server is untouched.
	_, exists := reg.Lookup("shell")
	assert.True(t, exists)
}

func TestTerminateAll_Idempotent(t *testing.T) {
	store := registry.NewMemoryStore()
	reg := registry.NewRegistry(store, readyDialer)
	sup := New(reg, readyDialer, fastOpts())

	_, err := sup.Launch(context.Background(), sleepDefinition("files"))
	require.NoError(t, err)

	sup.TerminateAll()
	sup.TerminateAll() // second sweep has nothing to do and must not blow up

	assert.Empty(t, reg.All())

	state, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, state, "persisted state is reset after the sweep")
}

func TestAllocatePort_NoCollisions(t *testing.T) {
	sup := New(registry.NewRegistry(registry.NewMemoryStore(), readyDialer), readyDialer, fastOpts())

	seen := make(map[int]bool)
	for i := 0; i < 20; i++ {
		port, err := sup.allocatePort()
		require.NoError(t, err)
		assert.False(t, seen[port], "port %d handed out twice", port)
		seen[port] = true
	}
}
