package orchestrator

import (
	"context"
	"fmt"

	"toolctl/internal/catalog"
	"toolctl/internal/config"
	"toolctl/internal/registry"
	"toolctl/internal/router"
	"toolctl/internal/serverconn"
	"toolctl/internal/supervisor"
	"toolctl/pkg/logging"
)

// Options configures an Orchestrator. Zero-value fields fall back to the
// production defaults; tests inject an in-memory store and fake dialers.
type Options struct {
	Config     config.Config
	Store      registry.StateStore
	Dialer     registry.Dialer
	Supervisor supervisor.Options
}

// Orchestrator wires the registry, supervisor, catalog, and router together
// and owns their lifecycle.
type Orchestrator struct {
	config   config.Config
	registry *registry.Registry
	super    *supervisor.Supervisor
	catalog  *catalog.Catalog
	router   *router.Router
}

// New constructs an orchestrator and loads persisted registry state so it
// can rejoin servers a prior instance left running. Construction never fails
// on persistence trouble; that is logged and treated as empty prior state.
func New(opts Options) (*Orchestrator, error) {
	store := opts.Store
	if store == nil {
		path := opts.Config.StateFile
		if path == "" {
			defaultPath, err := registry.DefaultStatePath()
			if err != nil {
				return nil, fmt.Errorf("failed to resolve state path: %w", err)
			}
			path = defaultPath
		}
		store = registry.NewFileStore(path)
	}

	dial := opts.Dialer
	if dial == nil {
		cfg := opts.Config
		dial = func(name, address string) serverconn.Client {
			timeout := serverconn.DefaultCallTimeout
			if def, found := cfg.FindServer(name); found && def.CallTimeout > 0 {
				timeout = def.CallTimeout
			}
			return serverconn.NewHTTPClient(address, timeout)
		}
	}

	reg := registry.NewRegistry(store, dial)
	reg.Load()

	cat := catalog.New(reg)

	return &Orchestrator{
		config:   opts.Config,
		registry: reg,
		super:    supervisor.New(reg, dial, opts.Supervisor),
		catalog:  cat,
		router:   router.New(reg, cat),
	}, nil
}

// Start launches every enabled configured server that is not already known.
// A server recovered from persisted state is left alone; relaunching it
// would duplicate a process that is probably still alive. Individual launch
// failures are logged and do not stop the rest.
func (o *Orchestrator) Start(ctx context.Context) {
	for _, def := range o.config.Servers {
		if !def.Enabled {
			continue
		}
		if _, known := o.registry.Lookup(def.Name); known {
			logging.Info("Orchestrator", "Server %s already known, skipping launch", def.Name)
			continue
		}
		if _, err := o.super.Launch(ctx, def); err != nil {
			logging.Error("Orchestrator", err, "Failed to launch server %s", def.Name)
		}
	}
}

// LaunchServer launches one configured server by name.
func (o *Orchestrator) LaunchServer(ctx context.Context, name string) (*registry.ServerRecord, error) {
	def, found := o.config.FindServer(name)
	if !found {
		return nil, fmt.Errorf("no configured server named %q", name)
	}
	return o.super.Launch(ctx, def)
}

// Refresh re-polls every known server and returns the new catalog snapshot.
func (o *Orchestrator) Refresh(ctx context.Context) []catalog.CapabilityDescriptor {
	return o.catalog.Refresh(ctx)
}

// Invoke dispatches one qualified tool call.
func (o *Orchestrator) Invoke(ctx context.Context, req router.InvocationRequest) router.InvocationResult {
	return o.router.Invoke(ctx, req)
}

// Catalog returns the tool catalog.
func (o *Orchestrator) Catalog() *catalog.Catalog {
	return o.catalog
}

// Registry returns the server registry.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.registry
}

// Save persists the current registry state.
func (o *Orchestrator) Save() error {
	return o.registry.Save()
}

// Shutdown terminates every owned server process and clears persisted
// state. Safe to call more than once.
func (o *Orchestrator) Shutdown() {
	o.super.TerminateAll()
}
