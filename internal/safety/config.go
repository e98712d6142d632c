package safety

import (
	"fmt"
	"os"
	"regexp"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Hotkey is a modifier set plus a key, e.g. {[ctrl shift] q}.
type Hotkey struct {
	Modifiers []string `yaml:"modifiers" json:"modifiers"`
	Key       string   `yaml:"key" json:"key"`
}

// Config is the guard's policy.
type Config struct {
	// MaxActionsPerMinute bounds the average validation rate of a session.
	MaxActionsPerMinute int `yaml:"max_actions_per_minute"`
	// MaxActionsPerTask bounds the number of executed (logged) actions
	// per task.
	MaxActionsPerTask int `yaml:"max_actions_per_task"`
	// AllowDestructive skips approval for destructive text and hotkeys.
	AllowDestructive bool `yaml:"allow_destructive"`

	ScreenWidth  int `yaml:"screen_width"`
	ScreenHeight int `yaml:"screen_height"`

	DestructiveKeywords     []string `yaml:"destructive_keywords"`
	DestructiveHotkeys      []Hotkey `yaml:"destructive_hotkeys"`
	SensitiveWindowKeywords []string `yaml:"sensitive_window_keywords"`
	// BlockedPatterns are regular expressions; typed text matching any
	// of them is refused outright.
	BlockedPatterns []string `yaml:"blocked_patterns"`

	AuditLogLimit int `yaml:"audit_log_limit"`
	MaxTextLength int `yaml:"max_text_length"`
	MaxWaitMs     int `yaml:"max_wait_ms"`
}

// DefaultConfig returns the built-in policy.
func DefaultConfig() *Config {
	return &Config{
		MaxActionsPerMinute: 30,
		MaxActionsPerTask:   100,
		AllowDestructive:    false,
		ScreenWidth:         1920,
		ScreenHeight:        1080,
		DestructiveKeywords: []string{
			"rm -rf", "rm -r", "del /f", "rmdir /s", "format", "mkfs",
			"shutdown", "reboot", "poweroff", "drop table", "drop database",
			"truncate", "git push --force", "chmod 777",
		},
		DestructiveHotkeys: []Hotkey{
			{Modifiers: []string{"alt"}, Key: "f4"},
			{Modifiers: []string{"ctrl"}, Key: "w"},
			{Modifiers: []string{"ctrl", "shift"}, Key: "q"},
			{Modifiers: []string{"ctrl", "alt"}, Key: "delete"},
			{Modifiers: []string{"shift"}, Key: "delete"},
		},
		SensitiveWindowKeywords: []string{
			"password", "credential", "settings", "sudo", "administrator",
			"admin", "keychain", "wallet", "bank", "login", "sign in",
		},
		BlockedPatterns: []string{
			`(?i)rm\s+-rf\s+/\*`,
			`(?i)rm\s+-rf\s+--no-preserve-root`,
			`(?i)drop\s+database`,
			`(?i)mkfs(\.\w+)?\s+/dev/`,
			`(?i)dd\s+if=\S+\s+of=/dev/(sd|nvme|hd)`,
			`:\(\)\s*\{\s*:\|:&\s*\};:`,
		},
		AuditLogLimit: 1000,
		MaxTextLength: 10000,
		MaxWaitMs:     60000,
	}
}

// LoadConfig reads a YAML policy file. Missing fields keep their
// defaults; a missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing policy file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return cfg, nil
}

// Validate checks limits and compiles every blocked pattern.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.MaxActionsPerMinute < 1 {
		result = multierror.Append(result, fmt.Errorf("max_actions_per_minute must be at least 1"))
	}
	if c.MaxActionsPerTask < 1 {
		result = multierror.Append(result, fmt.Errorf("max_actions_per_task must be at least 1"))
	}
	if c.ScreenWidth < 1 || c.ScreenHeight < 1 {
		result = multierror.Append(result, fmt.Errorf("screen bounds must be positive, got %dx%d", c.ScreenWidth, c.ScreenHeight))
	}
	if c.AuditLogLimit < 1 {
		result = multierror.Append(result, fmt.Errorf("audit_log_limit must be at least 1"))
	}
	for _, p := range c.BlockedPatterns {
		if _, err := regexp.Compile(p); err != nil {
			result = multierror.Append(result, fmt.Errorf("blocked pattern %q: %w", p, err))
		}
	}
	return result.ErrorOrNil()
}

func (c *Config) compilePatterns() ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(c.BlockedPatterns))
	for _, p := range c.BlockedPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("blocked pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
