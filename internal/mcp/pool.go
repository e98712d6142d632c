package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Pool keeps one live connection per host, dialling lazily.
type Pool struct {
	registry *Registry
	dial     Dialer
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[string]ToolCaller
	closed  bool
}

// NewPool creates a pool over reg. dial nil selects Dial.
func NewPool(reg *Registry, dial Dialer, logger *slog.Logger) *Pool {
	if dial == nil {
		dial = Dial
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		registry: reg,
		dial:     dial,
		logger:   logger,
		clients:  make(map[string]ToolCaller),
	}
}

// Get returns the connection to host name, dialling it if needed.
func (p *Pool) Get(ctx context.Context, name string) (ToolCaller, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("host pool closed")
	}
	if c, ok := p.clients[name]; ok {
		return c, nil
	}

	host, ok := p.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("host %q not found", name)
	}
	if !host.Enabled {
		return nil, fmt.Errorf("host %q is disabled", name)
	}

	c, err := p.dial(ctx, *host)
	if err != nil {
		return nil, err
	}
	p.clients[name] = c
	p.logger.Info("connected to desktop host", "host", name, "transport", host.Transport)
	return c, nil
}

// Evict closes and forgets the connection to name so the next Get
// redials.
func (p *Pool) Evict(name string) {
	p.mu.Lock()
	c, ok := p.clients[name]
	delete(p.clients, name)
	p.mu.Unlock()

	if ok {
		if err := c.Close(); err != nil {
			p.logger.Warn("closing desktop host connection", "host", name, "error", err)
		}
	}
}

// Connected returns the names of hosts with a live connection.
func (p *Pool) Connected() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(p.clients))
	for name := range p.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	clients := p.clients
	p.clients = make(map[string]ToolCaller)
	p.closed = true
	p.mu.Unlock()

	var result *multierror.Error
	for name, c := range clients {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("host %q: %w", name, err))
		}
	}
	return result.ErrorOrNil()
}
