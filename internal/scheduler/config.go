package scheduler

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Config defines the scheduler configuration.
type Config struct {
	// GlobalMax is the maximum number of task loops running at once across all sessions.
	GlobalMax int `yaml:"global_max"`
	// PerSession is the default number of loops one session may run at once.
	PerSession int `yaml:"per_session"`
	// BySession overrides PerSession for specific session IDs.
	BySession map[string]int `yaml:"by_session,omitempty"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		GlobalMax:  10,
		PerSession: 1,
	}
}

// GetSessionLimit returns the concurrency limit for a session.
func (c *Config) GetSessionLimit(sessionID string) int {
	if limit, ok := c.BySession[sessionID]; ok {
		return limit
	}
	if c.PerSession > 0 {
		return c.PerSession
	}
	return 1
}

// Validate checks the limits.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.GlobalMax < 1 {
		result = multierror.Append(result, fmt.Errorf("global_max must be at least 1"))
	}
	if c.PerSession < 0 {
		result = multierror.Append(result, fmt.Errorf("per_session must not be negative"))
	}
	for id, limit := range c.BySession {
		if limit < 1 {
			result = multierror.Append(result, fmt.Errorf("by_session[%s] must be at least 1", id))
		}
	}
	return result.ErrorOrNil()
}
