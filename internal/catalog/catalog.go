package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"toolctl/internal/registry"
	"toolctl/internal/schema"
	"toolctl/pkg/logging"
)

// CapabilityDescriptor is one namespaced tool in the aggregated catalog.
type CapabilityDescriptor struct {
	// QualifiedName is "<server>.<local-name>". Uniqueness falls out of
	// the prefixing: two servers may expose the same local name.
	QualifiedName string

	// Description is the server's description prefixed with the server
	// name in brackets.
	Description string

	// Parameters is the tool's validated parameter schema.
	Parameters *schema.Schema
}

// Catalog aggregates capability descriptors from every registered server
// into one namespaced snapshot.
type Catalog struct {
	registry *registry.Registry

	// refreshMu serializes refreshes; overlapping refreshes would swap
	// the snapshot in no defined order.
	refreshMu sync.Mutex

	mu       sync.RWMutex
	snapshot []CapabilityDescriptor
	byName   map[string]CapabilityDescriptor
}

// New creates an empty catalog over the given registry.
func New(reg *registry.Registry) *Catalog {
	return &Catalog{
		registry: reg,
		byName:   make(map[string]CapabilityDescriptor),
	}
}

// Refresh polls every registered server for its capability list and replaces
// the snapshot wholesale. A server that fails to answer contributes nothing
// and does not abort the refresh of the others.
func (c *Catalog) Refresh(ctx context.Context) []CapabilityDescriptor {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	var descriptors []CapabilityDescriptor

	for _, record := range c.registry.All() {
		tools, err := record.Client.ListTools(ctx)
		if err != nil {
			logging.Warn("Catalog", "Failed to list tools for %s: %v", record.Name, err)
			continue
		}

		for _, tool := range tools {
			params, err := schema.Parse(tool.Parameters)
			if err != nil {
				logging.Warn("Catalog", "Skipping tool %s.%s with bad parameter schema: %v", record.Name, tool.Name, err)
				continue
			}
			descriptors = append(descriptors, CapabilityDescriptor{
				QualifiedName: fmt.Sprintf("%s.%s", record.Name, tool.Name),
				Description:   fmt.Sprintf("[%s] %s", record.Name, tool.Description),
				Parameters:    params,
			})
		}
	}

	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].QualifiedName < descriptors[j].QualifiedName
	})

	byName := make(map[string]CapabilityDescriptor, len(descriptors))
	for _, d := range descriptors {
		byName[d.QualifiedName] = d
	}

	c.mu.Lock()
	c.snapshot = descriptors
	c.byName = byName
	c.mu.Unlock()

	logging.Debug("Catalog", "Refreshed catalog: %d tools", len(descriptors))
	return descriptors
}

// List returns the most recently completed refresh snapshot.
func (c *Catalog) List() []CapabilityDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]CapabilityDescriptor, len(c.snapshot))
	copy(result, c.snapshot)
	return result
}

// Find returns the descriptor for a qualified name from the latest snapshot.
func (c *Catalog) Find(qualifiedName string) (CapabilityDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, exists := c.byName[qualifiedName]
	return d, exists
}
