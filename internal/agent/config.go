package agent

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Config tunes the control loop.
type Config struct {
	// MaxRetryAttempts bounds how often a step is re-executed after a
	// failed verification, across the whole task.
	MaxRetryAttempts int `yaml:"max_retry_attempts"`
	// SettleDelay is waited after each step before the "after" capture.
	SettleDelay time.Duration `yaml:"settle_delay"`
	// VerifyConfidenceThreshold: a failed verification only counts when
	// its confidence is above this value.
	VerifyConfidenceThreshold float64 `yaml:"verify_confidence_threshold"`
	// TaskTimeout bounds a task's wall-clock runtime from StartedAt.
	TaskTimeout time.Duration `yaml:"task_timeout"`
	// HistoryLimit caps Session.ActionHistory.
	HistoryLimit int `yaml:"history_limit"`
	// ConversationLimit caps Session.ConversationHistory.
	ConversationLimit int `yaml:"conversation_limit"`
	// RevalidateOnResume re-runs the guard on a step the user just
	// approved. The approval itself is honoured either way; a refusal
	// (rate limit, bounds) still blocks the step.
	RevalidateOnResume bool `yaml:"revalidate_on_resume"`
}

// DefaultConfig returns the default loop settings.
func DefaultConfig() Config {
	return Config{
		MaxRetryAttempts:          3,
		SettleDelay:               500 * time.Millisecond,
		VerifyConfidenceThreshold: 0.7,
		TaskTimeout:               5 * time.Minute,
		HistoryLimit:              1000,
		ConversationLimit:         20,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	var result *multierror.Error
	if c.MaxRetryAttempts < 0 {
		result = multierror.Append(result, fmt.Errorf("max_retry_attempts must not be negative"))
	}
	if c.SettleDelay < 0 {
		result = multierror.Append(result, fmt.Errorf("settle_delay must not be negative"))
	}
	if c.VerifyConfidenceThreshold < 0 || c.VerifyConfidenceThreshold > 1 {
		result = multierror.Append(result, fmt.Errorf("verify_confidence_threshold must be within [0, 1]"))
	}
	if c.TaskTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("task_timeout must be positive"))
	}
	if c.HistoryLimit < 1 {
		result = multierror.Append(result, fmt.Errorf("history_limit must be at least 1"))
	}
	if c.ConversationLimit < 1 {
		result = multierror.Append(result, fmt.Errorf("conversation_limit must be at least 1"))
	}
	return result.ErrorOrNil()
}
