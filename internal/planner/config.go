package planner

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Provider kinds.
const (
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
)

// ProviderConfig describes one chat model endpoint.
type ProviderConfig struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty"`
	// APIKeyEnv names an environment variable holding one key or a
	// comma-separated list to rotate through.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
}

// Config is the planner section of the daemon configuration.
type Config struct {
	Default   string           `yaml:"default"`
	Providers []ProviderConfig `yaml:"providers"`
	MaxTokens int              `yaml:"max_tokens"`
	Timeout   time.Duration    `yaml:"timeout"`
}

// DefaultConfig returns a single OpenAI provider.
func DefaultConfig() Config {
	return Config{
		Default: "openai",
		Providers: []ProviderConfig{{
			Name:      "openai",
			Kind:      KindOpenAI,
			Model:     "gpt-4o",
			APIKeyEnv: "OPENAI_API_KEY",
		}},
		MaxTokens: DefaultMaxTokens,
		Timeout:   60 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var result *multierror.Error

	names := map[string]bool{}
	for i, p := range c.Providers {
		if p.Name == "" {
			result = multierror.Append(result, fmt.Errorf("providers[%d]: name is required", i))
			continue
		}
		if names[p.Name] {
			result = multierror.Append(result, fmt.Errorf("providers[%d]: duplicate name %q", i, p.Name))
		}
		names[p.Name] = true
		if p.Kind != KindOpenAI && p.Kind != KindAnthropic {
			result = multierror.Append(result, fmt.Errorf("provider %q: invalid kind %q, must be: openai or anthropic", p.Name, p.Kind))
		}
		if p.Model == "" {
			result = multierror.Append(result, fmt.Errorf("provider %q: model is required", p.Name))
		}
	}
	if len(c.Providers) == 0 {
		result = multierror.Append(result, fmt.Errorf("at least one provider is required"))
	} else if !names[c.Default] {
		result = multierror.Append(result, fmt.Errorf("default provider %q is not configured", c.Default))
	}
	if c.MaxTokens < 0 {
		result = multierror.Append(result, fmt.Errorf("max_tokens must not be negative"))
	}
	if c.Timeout < 0 {
		result = multierror.Append(result, fmt.Errorf("timeout must not be negative"))
	}

	return result.ErrorOrNil()
}

// NewFromConfig builds a planner routing over every configured provider.
func NewFromConfig(cfg Config, logger *slog.Logger) (*LLM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid planner config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	router := NewRouter(cfg.Default)
	for _, p := range cfg.Providers {
		keys := splitKeys(os.Getenv(p.APIKeyEnv))
		if p.APIKeyEnv != "" && len(keys) == 0 {
			logger.Warn("planner provider has no API key", "provider", p.Name, "env", p.APIKeyEnv)
		}
		switch p.Kind {
		case KindOpenAI:
			router.Register(NewOpenAICompleter(p.Name, p.BaseURL, p.Model, keys))
		case KindAnthropic:
			router.Register(NewAnthropicCompleter(p.Name, p.BaseURL, p.Model, keys))
		}
	}

	opts := []Option{WithLogger(logger), WithTimeout(cfg.Timeout)}
	if cfg.MaxTokens > 0 {
		opts = append(opts, WithMaxTokens(cfg.MaxTokens))
	}
	return New(router, opts...), nil
}

func splitKeys(s string) []string {
	if s == "" {
		return nil
	}
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
