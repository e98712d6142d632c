package mcp

import (
	"fmt"
	"sort"
	"sync"
)

func cloneHost(h *Host) Host {
	c := *h
	if h.Args != nil {
		c.Args = append([]string(nil), h.Args...)
	}
	if h.Env != nil {
		c.Env = append([]string(nil), h.Env...)
	}
	if h.Headers != nil {
		c.Headers = make(map[string]string, len(h.Headers))
		for k, v := range h.Headers {
			c.Headers[k] = v
		}
	}
	return c
}

// Registry manages registered desktop hosts.
type Registry struct {
	hosts map[string]*Host
	mu    sync.RWMutex
}

// NewRegistry creates a new host registry.
func NewRegistry() *Registry {
	return &Registry{
		hosts: make(map[string]*Host),
	}
}

// NewRegistryFromConfig registers every host in cfg.
func NewRegistryFromConfig(cfg *Config) (*Registry, error) {
	r := NewRegistry()
	for _, h := range cfg.Hosts {
		if err := r.Register(h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or updates a host in the registry.
func (r *Registry) Register(host Host) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if host.Name == "" {
		return fmt.Errorf("host name cannot be empty")
	}
	host.Tools = host.Tools.withDefaults()

	r.hosts[host.Name] = &host
	return nil
}

// Get retrieves a host by name.
func (r *Registry) Get(name string) (*Host, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	host, ok := r.hosts[name]
	if !ok {
		return nil, false
	}

	// Return a deep copy to prevent external mutation
	c := cloneHost(host)
	return &c, true
}

// List returns all registered hosts sorted by priority (desc), then name.
func (r *Registry) List() []Host {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hosts := make([]Host, 0, len(r.hosts))
	for _, h := range r.hosts {
		hosts = append(hosts, cloneHost(h))
	}
	sortHosts(hosts)
	return hosts
}

// Enable enables a host.
func (r *Registry) Enable(name string) error {
	return r.setEnabled(name, true)
}

// Disable disables a host.
func (r *Registry) Disable(name string) error {
	return r.setEnabled(name, false)
}

func (r *Registry) setEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	host, ok := r.hosts[name]
	if !ok {
		return fmt.Errorf("host %q not found", name)
	}
	host.Enabled = enabled
	return nil
}

// Count returns the number of registered hosts.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hosts)
}

// GetEnabled returns only enabled hosts, highest priority first.
func (r *Registry) GetEnabled() []Host {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hosts := make([]Host, 0)
	for _, h := range r.hosts {
		if h.Enabled {
			hosts = append(hosts, cloneHost(h))
		}
	}
	sortHosts(hosts)
	return hosts
}

func sortHosts(hosts []Host) {
	sort.Slice(hosts, func(i, j int) bool {
		if hosts[i].Priority != hosts[j].Priority {
			return hosts[i].Priority > hosts[j].Priority
		}
		return hosts[i].Name < hosts[j].Name
	})
}
