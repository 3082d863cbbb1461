package registry

import (
	"fmt"
	"os"
	"sync"

	"toolctl/internal/serverconn"
	"toolctl/pkg/logging"

	"github.com/google/uuid"
)

// ServerRecord is the registry's view of one known tool server.
type ServerRecord struct {
	// ID is an opaque token minted at registration time. It travels with
	// the record into the state file so a recovered server keeps its
	// identity across orchestrator restarts.
	ID string

	// Name is the unique registry key.
	Name string

	// Address is the server's control-channel base URL.
	Address string

	// Client is the live control-channel connection.
	Client serverconn.Client

	// Proc is the child process handle. It is set only for servers this
	// orchestrator launched; the supervisor is the sole writer.
	Proc *os.Process
}

// Owned reports whether this orchestrator manages the server's lifecycle.
func (r *ServerRecord) Owned() bool {
	return r.Proc != nil
}

// Dialer creates a control-channel client for a named server. The name lets
// the dialer apply per-server settings such as the call timeout; injected so
// tests can substitute fakes for real HTTP clients.
type Dialer func(name, address string) serverconn.Client

// Registry tracks every known tool server, both the ones this process
// launched and the ones recovered from persisted state.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]*ServerRecord
	store   StateStore
	dial    Dialer
}

// NewRegistry creates a registry backed by the given state store.
func NewRegistry(store StateStore, dial Dialer) *Registry {
	return &Registry{
		servers: make(map[string]*ServerRecord),
		store:   store,
		dial:    dial,
	}
}

// RegisterOwned adds a server whose process this orchestrator launched.
func (r *Registry) RegisterOwned(name, address string, client serverconn.Client, proc *os.Process) (*ServerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.servers[name]; exists {
		return nil, fmt.Errorf("server %s already registered", name)
	}

	record := &ServerRecord{
		ID:      uuid.NewString(),
		Name:    name,
		Address: address,
		Client:  client,
		Proc:    proc,
	}
	r.servers[name] = record

	logging.Info("Registry", "Registered owned server %s at %s", name, address)
	return record, nil
}

// RegisterDiscovered adds a server recovered from persisted state. The
// orchestrator does not own its lifecycle, so there is no process handle.
func (r *Registry) RegisterDiscovered(name, address string) (*ServerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.servers[name]; exists {
		return nil, fmt.Errorf("server %s already registered", name)
	}

	record := &ServerRecord{
		ID:      uuid.NewString(),
		Name:    name,
		Address: address,
		Client:  r.dial(name, address),
	}
	r.servers[name] = record

	logging.Info("Registry", "Registered discovered server %s at %s", name, address)
	return record, nil
}

// Lookup returns the record for a server name, if known.
func (r *Registry) Lookup(name string) (*ServerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.servers[name]
	return record, exists
}

// All returns a snapshot of every registered server.
func (r *Registry) All() []*ServerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*ServerRecord, 0, len(r.servers))
	for _, record := range r.servers {
		result = append(result, record)
	}
	return result
}

// Remove deletes a server from the registry. Removing an unknown name is a
// no-op; process exit and explicit shutdown may race here.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.servers[name]; !exists {
		return
	}
	delete(r.servers, name)
	logging.Info("Registry", "Removed server %s", name)
}

// Save writes the current (name, address) pairs to the state store. Process
// handles are not persistable and are dropped on purpose.
func (r *Registry) Save() error {
	r.mu.RLock()
	state := make(map[string]PersistedServer, len(r.servers))
	for name, record := range r.servers {
		state[name] = PersistedServer{ID: record.ID, URL: record.Address}
	}
	r.mu.RUnlock()

	if err := r.store.Save(state); err != nil {
		return fmt.Errorf("failed to persist registry state: %w", err)
	}
	return nil
}

// Load reads persisted state and registers every entry not already known as
// a discovered server. A missing or unreadable store means no prior state;
// that is logged and never fails the caller.
func (r *Registry) Load() {
	state, err := r.store.Load()
	if err != nil {
		logging.Warn("Registry", "Could not load persisted state, starting empty: %v", err)
		return
	}

	for name, entry := range state {
		if _, exists := r.Lookup(name); exists {
			continue
		}

		r.mu.Lock()
		r.servers[name] = &ServerRecord{
			ID:      entry.ID,
			Name:    name,
			Address: entry.URL,
			Client:  r.dial(name, entry.URL),
		}
		r.mu.Unlock()

		logging.Info("Registry", "Recovered server %s at %s from persisted state", name, entry.URL)
	}
}

// ResetState clears the persisted record set. Called after a full shutdown
// sweep so a later instance does not chase dead addresses.
func (r *Registry) ResetState() error {
	if err := r.store.Reset(); err != nil {
		return fmt.Errorf("failed to reset persisted state: %w", err)
	}
	return nil
}
