package mcp

import (
	"fmt"
	"regexp"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Config holds the desktop host configuration.
type Config struct {
	// Hosts lists the desktop hosts the agent may drive.
	Hosts []Host `yaml:"hosts"`
	// Default names the host used when no binding matches.
	Default string `yaml:"default"`
	// Bindings route sessions to hosts by session ID pattern.
	Bindings []Binding `yaml:"bindings,omitempty"`
	// CallTimeout bounds a single tool call.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// Binding routes sessions whose ID matches Pattern to Host.
type Binding struct {
	// Pattern is a regular expression matched against the session ID.
	Pattern string `yaml:"pattern"`
	// Host is the name of a configured host.
	Host string `yaml:"host"`
}

// DefaultConfig returns a configuration with a single local stdio host.
func DefaultConfig() *Config {
	return &Config{
		Hosts: []Host{
			{
				Name:      "local",
				Transport: TransportStdio,
				Command:   "desktop-mcp",
				Tools:     DefaultToolNames(),
				Priority:  100,
				Enabled:   true,
			},
		},
		Default:     "local",
		CallTimeout: 30 * time.Second,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var result *multierror.Error

	names := make(map[string]bool, len(c.Hosts))
	for i, h := range c.Hosts {
		if h.Name == "" {
			result = multierror.Append(result, fmt.Errorf("hosts[%d]: name is required", i))
			continue
		}
		if names[h.Name] {
			result = multierror.Append(result, fmt.Errorf("hosts[%d]: duplicate name %q", i, h.Name))
		}
		names[h.Name] = true

		switch h.Transport {
		case TransportStdio:
			if h.Command == "" {
				result = multierror.Append(result, fmt.Errorf("host %q: stdio transport needs a command", h.Name))
			}
		case TransportHTTP:
			if h.URL == "" {
				result = multierror.Append(result, fmt.Errorf("host %q: http transport needs a url", h.Name))
			}
		default:
			result = multierror.Append(result, fmt.Errorf("host %q: invalid transport %q, must be: stdio or http", h.Name, h.Transport))
		}
	}

	if c.Default != "" && !names[c.Default] {
		result = multierror.Append(result, fmt.Errorf("default host %q is not configured", c.Default))
	}
	for i, b := range c.Bindings {
		if _, err := regexp.Compile(b.Pattern); err != nil {
			result = multierror.Append(result, fmt.Errorf("bindings[%d]: invalid pattern %q: %w", i, b.Pattern, err))
		}
		if !names[b.Host] {
			result = multierror.Append(result, fmt.Errorf("bindings[%d]: unknown host %q", i, b.Host))
		}
	}
	if c.CallTimeout < 0 {
		result = multierror.Append(result, fmt.Errorf("call_timeout must not be negative"))
	}

	return result.ErrorOrNil()
}
