package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ConnectionInfo is a read-only snapshot entry for one configured
// server. Servers that were never connected report StateDisconnected
// with a nil capability set.
type ConnectionInfo struct {
	Name         string
	Config       ServerConfig
	State        ConnState
	Capabilities *Capabilities
	Err          error
}

// Registry owns the named server configurations and the live protocol
// clients built from them. Clients are materialized lazily on first
// use and reused while healthy, so repeated EnsureConnected calls
// never cause reconnect storms.
type Registry struct {
	mu      sync.Mutex
	configs map[string]ServerConfig
	clients map[string]*Client

	dial    SessionDialer
	timeout TimeoutPolicy
	logger  *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDialer replaces the transport factory. Tests use this to inject
// fake sessions.
func WithDialer(dial SessionDialer) RegistryOption {
	return func(r *Registry) { r.dial = dial }
}

// WithTimeout sets the registry-wide timeout policy applied to clients
// at construction time. Per-server config overrides still win.
func WithTimeout(policy TimeoutPolicy) RegistryOption {
	return func(r *Registry) { r.timeout = policy }
}

// WithLogger sets the structured logger for connection lifecycle
// events.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates an empty registry. Server configs are added with
// UpsertServer.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		configs: make(map[string]ServerConfig),
		clients: make(map[string]*Client),
		dial:    DialSession,
		timeout: DefaultTimeoutPolicy(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// UpsertServer adds or replaces the config for a named server. It does
// not connect. A live client for the same name keeps running with the
// config it was constructed from; the replacement takes effect the
// next time a client is (re)constructed.
func (r *Registry) UpsertServer(name string, cfg ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.configs[name] = cfg
	r.mu.Unlock()
	return nil
}

// RemoveServer disconnects and discards any live client for the name,
// then deletes the config. Removing a never-connected or unknown name
// only deletes the config entry.
func (r *Registry) RemoveServer(ctx context.Context, name string) error {
	r.mu.Lock()
	client := r.clients[name]
	delete(r.clients, name)
	delete(r.configs, name)
	r.mu.Unlock()

	if client != nil {
		client.Disconnect()
		r.logger.Info("mcp server removed", "server", name)
	}
	return ctx.Err()
}

// EnsureConnected returns a connected client for the named server,
// constructing or reconnecting one as needed:
//
//  1. a client that is already connected is returned unchanged;
//  2. a client that was explicitly disconnected is reconnected on the
//     same instance;
//  3. otherwise (no client yet, or the previous one is stuck in the
//     error state) a fresh client is constructed from the stored
//     config and connected, replacing any prior erroring instance.
//
// The instance is registered even when its handshake fails, so
// Snapshot can report the error state and a later call can replace it.
func (r *Registry) EnsureConnected(ctx context.Context, name string) (*Client, error) {
	r.mu.Lock()
	cfg, ok := r.configs[name]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrServerNotFound, name)
	}
	client := r.clients[name]

	if client != nil {
		switch client.State() {
		case StateConnected:
			r.mu.Unlock()
			return client, nil
		case StateDisconnected, StateConnecting:
			r.mu.Unlock()
			if err := client.Connect(ctx); err != nil {
				return nil, err
			}
			return client, nil
		}
		// StateError: fall through and replace the instance.
	}

	client = NewClient(name, cfg, r.dial, r.timeout)
	r.clients[name] = client
	r.mu.Unlock()

	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// ConnectAll attempts EnsureConnected for every configured server
// concurrently. Per-server failures are logged and never abort the
// others; partial success is the expected outcome.
func (r *Registry) ConnectAll(ctx context.Context) {
	r.mu.Lock()
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if _, err := r.EnsureConnected(ctx, name); err != nil {
				r.logger.Warn("mcp server connect failed", "server", name, "error", err)
				return
			}
			r.logger.Info("mcp server connected", "server", name)
		}(name)
	}
	wg.Wait()
}

// DisconnectAll disconnects every live client concurrently. Disconnect
// never fails, so this always completes.
func (r *Registry) DisconnectAll(ctx context.Context) {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			c.Disconnect()
		}(c)
	}
	wg.Wait()
}

// Snapshot returns a read-only view of every configured server, sorted
// by name. Callers must not mutate the returned configs or reach into
// client internals; all changes go through registry methods.
func (r *Registry) Snapshot() []ConnectionInfo {
	r.mu.Lock()
	infos := make([]ConnectionInfo, 0, len(r.configs))
	for name, cfg := range r.configs {
		info := ConnectionInfo{Name: name, Config: cfg, State: StateDisconnected}
		if client, ok := r.clients[name]; ok {
			info.State = client.State()
			info.Capabilities = client.Capabilities()
			info.Err = client.Err()
		}
		infos = append(infos, info)
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// ApplyTimeout broadcasts a new timeout policy: it becomes the default
// for clients constructed afterward and is applied explicitly to every
// currently live client. Each client updates its own state; the
// registry never reaches into client fields.
func (r *Registry) ApplyTimeout(policy TimeoutPolicy) {
	r.mu.Lock()
	r.timeout = policy
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	for _, c := range clients {
		c.ApplyTimeout(policy)
	}
}

// ServerNames returns the configured server names, sorted.
func (r *Registry) ServerNames() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)
	return names
}
