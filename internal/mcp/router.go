package mcp

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
)

// ErrNoHost is returned when no enabled host can serve a session.
var ErrNoHost = errors.New("no desktop host available")

// RoutingResult explains why a session was sent to a host.
type RoutingResult struct {
	SessionID   string `json:"session_id"`
	Host        Host   `json:"host"`
	MatchedRule string `json:"matched_rule"`
}

type compiledBinding struct {
	pattern *regexp.Regexp
	host    string
}

// Router picks the desktop host for each session. Pinned sessions win,
// then the first matching binding, then the configured default, then the
// highest-priority enabled host.
type Router struct {
	config   *Config
	registry *Registry
	bindings []compiledBinding

	mu   sync.RWMutex
	pins map[string]string
}

// NewRouter creates a router over reg.
func NewRouter(cfg *Config, reg *Registry) (*Router, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if reg == nil {
		var err error
		if reg, err = NewRegistryFromConfig(cfg); err != nil {
			return nil, err
		}
	}

	r := &Router{
		config:   cfg,
		registry: reg,
		pins:     make(map[string]string),
	}
	for _, b := range cfg.Bindings {
		re, err := regexp.Compile(b.Pattern)
		if err != nil {
			return nil, fmt.Errorf("binding pattern %q: %w", b.Pattern, err)
		}
		r.bindings = append(r.bindings, compiledBinding{pattern: re, host: b.Host})
	}
	return r, nil
}

// Route determines which host serves sessionID.
func (r *Router) Route(sessionID string) (*RoutingResult, error) {
	r.mu.RLock()
	pinned, ok := r.pins[sessionID]
	r.mu.RUnlock()
	if ok {
		if h, ok := r.enabled(pinned); ok {
			return &RoutingResult{SessionID: sessionID, Host: h, MatchedRule: "pin"}, nil
		}
		return nil, fmt.Errorf("%w: pinned host %q is disabled or unknown", ErrNoHost, pinned)
	}

	for _, b := range r.bindings {
		if !b.pattern.MatchString(sessionID) {
			continue
		}
		if h, ok := r.enabled(b.host); ok {
			return &RoutingResult{SessionID: sessionID, Host: h, MatchedRule: b.pattern.String()}, nil
		}
	}

	if r.config.Default != "" {
		if h, ok := r.enabled(r.config.Default); ok {
			return &RoutingResult{SessionID: sessionID, Host: h, MatchedRule: "default"}, nil
		}
	}

	if enabled := r.registry.GetEnabled(); len(enabled) > 0 {
		return &RoutingResult{SessionID: sessionID, Host: enabled[0], MatchedRule: "priority"}, nil
	}
	return nil, ErrNoHost
}

// Pin sends sessionID to host regardless of bindings.
func (r *Router) Pin(sessionID, host string) error {
	if _, ok := r.registry.Get(host); !ok {
		return fmt.Errorf("host %q not found", host)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pins[sessionID] = host
	return nil
}

// Unpin removes a session's pin.
func (r *Router) Unpin(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pins, sessionID)
}

func (r *Router) enabled(name string) (Host, bool) {
	h, ok := r.registry.Get(name)
	if !ok || !h.Enabled {
		return Host{}, false
	}
	return *h, true
}

// GetConfig returns the router's configuration.
func (r *Router) GetConfig() *Config {
	return r.config
}

// GetRegistry returns the router's registry.
func (r *Router) GetRegistry() *Registry {
	return r.registry
}
