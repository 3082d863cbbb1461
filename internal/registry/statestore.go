package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// PersistedServer is one entry of the durable state file: enough to rejoin a
// server a prior orchestrator instance left running.
type PersistedServer struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// StateStore is the durable side-channel for registry state. Injected so
// tests can run against an in-memory store instead of the filesystem.
type StateStore interface {
	// Load reads the persisted record set. An absent store yields an
	// empty map, not an error.
	Load() (map[string]PersistedServer, error)

	// Save overwrites the record set wholesale.
	Save(state map[string]PersistedServer) error

	// Reset replaces the record set with an empty one.
	Reset() error
}

// FileStore persists registry state as a JSON object mapping server name to
// {id, url} in a single file.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed state store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultStatePath returns the state file location under the user's config
// directory.
func DefaultStatePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "toolctl", "state.json"), nil
}

// Load reads the state file. A missing file is empty state.
func (f *FileStore) Load() (map[string]PersistedServer, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]PersistedServer{}, nil
		}
		return nil, fmt.Errorf("failed to read state file %s: %w", f.path, err)
	}

	var state map[string]PersistedServer
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("state file %s is malformed: %w", f.path, err)
	}
	if state == nil {
		state = map[string]PersistedServer{}
	}
	return state, nil
}

// Save overwrites the state file with the given record set.
func (f *FileStore) Save(state map[string]PersistedServer) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", f.path, err)
	}
	return nil
}

// Reset writes an empty record set.
func (f *FileStore) Reset() error {
	return f.Save(map[string]PersistedServer{})
}

// MemoryStore is an in-process StateStore for tests and embedding.
type MemoryStore struct {
	mu    sync.Mutex
	state map[string]PersistedServer
}

// NewMemoryStore creates an empty in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: map[string]PersistedServer{}}
}

// Load returns a copy of the stored record set.
func (m *MemoryStore) Load() (map[string]PersistedServer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make(map[string]PersistedServer, len(m.state))
	for k, v := range m.state {
		copied[k] = v
	}
	return copied, nil
}

// Save replaces the stored record set.
func (m *MemoryStore) Save(state map[string]PersistedServer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make(map[string]PersistedServer, len(state))
	for k, v := range state {
		copied[k] = v
	}
	m.state = copied
	return nil
}

// Reset clears the stored record set.
func (m *MemoryStore) Reset() error {
	return m.Save(map[string]PersistedServer{})
}
