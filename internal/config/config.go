// Package config loads the deskpilot daemon configuration from
// ~/.deskpilot/config.yaml.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/fentz26/deskpilot/internal/agent"
	"github.com/fentz26/deskpilot/internal/mcp"
	"github.com/fentz26/deskpilot/internal/planner"
	"github.com/fentz26/deskpilot/internal/safety"
	"github.com/fentz26/deskpilot/internal/scheduler"
)

// Desktop connector kinds.
const (
	ConnectorMCP   = "mcp"
	ConnectorLocal = "local"
)

// Config is the daemon configuration.
type Config struct {
	Agent agent.Config `yaml:"agent"`
	// Safety is the inline guard policy. When SafetyPolicy names a file,
	// that file wins and is reloaded on change.
	Safety       *safety.Config    `yaml:"safety"`
	SafetyPolicy string            `yaml:"safety_policy,omitempty"`
	Scheduler    *scheduler.Config `yaml:"scheduler"`
	Planner      planner.Config    `yaml:"planner"`
	Desktop      DesktopConfig     `yaml:"desktop"`
	Hosts        *mcp.Config       `yaml:"hosts"`
	Server       ServerConfig      `yaml:"server"`
	Log          LogConfig         `yaml:"log"`
}

// DesktopConfig selects how screens are captured and driven.
type DesktopConfig struct {
	// Connector is "mcp" (remote hosts from the hosts section) or
	// "local" (this machine's X display).
	Connector string `yaml:"connector"`
	Display   string `yaml:"display,omitempty"`
}

// ServerConfig configures the HTTP control plane.
type ServerConfig struct {
	Listen string `yaml:"listen"`
	DBPath string `yaml:"db_path"`
	// Tokens maps bearer tokens to user IDs. With no tokens the
	// X-User-ID header is trusted.
	Tokens      map[string]string `yaml:"tokens,omitempty"`
	EventBuffer int               `yaml:"event_buffer"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Dir returns ~/.deskpilot, or .deskpilot when the home directory is
// unknown.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".deskpilot"
	}
	return filepath.Join(home, ".deskpilot")
}

// DefaultPath returns ~/.deskpilot/config.yaml.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Agent:     agent.DefaultConfig(),
		Safety:    safety.DefaultConfig(),
		Scheduler: scheduler.DefaultConfig(),
		Planner:   planner.DefaultConfig(),
		Desktop:   DesktopConfig{Connector: ConnectorMCP},
		Hosts:     mcp.DefaultConfig(),
		Server: ServerConfig{
			Listen:      "127.0.0.1:7466",
			DBPath:      filepath.Join(Dir(), "deskpilot.db"),
			EventBuffer: 64,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig loads configuration from a YAML file. A missing file
// yields the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.SafetyPolicy != "" {
		cfg.SafetyPolicy = expandHome(cfg.SafetyPolicy)
		policy, err := safety.LoadConfig(cfg.SafetyPolicy)
		if err != nil {
			return nil, err
		}
		cfg.Safety = policy
	}
	cfg.Server.DBPath = expandHome(cfg.Server.DBPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves configuration to a YAML file, creating parent directories if needed.
func SaveConfig(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	var result *multierror.Error

	section := func(name string, err error) {
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
		}
	}
	section("agent", c.Agent.Validate())
	if c.Safety == nil {
		result = multierror.Append(result, fmt.Errorf("safety: section is required"))
	} else {
		section("safety", c.Safety.Validate())
	}
	if c.Scheduler == nil {
		result = multierror.Append(result, fmt.Errorf("scheduler: section is required"))
	} else {
		section("scheduler", c.Scheduler.Validate())
	}
	section("planner", c.Planner.Validate())

	switch c.Desktop.Connector {
	case ConnectorMCP:
		if c.Hosts == nil || len(c.Hosts.Hosts) == 0 {
			result = multierror.Append(result, fmt.Errorf("hosts: at least one host is required for the mcp connector"))
		} else {
			section("hosts", c.Hosts.Validate())
		}
	case ConnectorLocal:
	default:
		result = multierror.Append(result, fmt.Errorf("desktop: invalid connector %q, must be: mcp or local", c.Desktop.Connector))
	}

	if c.Server.Listen == "" {
		result = multierror.Append(result, fmt.Errorf("server: listen address is required"))
	}
	if c.Server.DBPath == "" {
		result = multierror.Append(result, fmt.Errorf("server: db_path is required"))
	}
	if c.Server.EventBuffer < 1 {
		result = multierror.Append(result, fmt.Errorf("server: event_buffer must be at least 1"))
	}
	for token, user := range c.Server.Tokens {
		if token == "" || user == "" {
			result = multierror.Append(result, fmt.Errorf("server: tokens must map a non-empty token to a non-empty user"))
			break
		}
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		result = multierror.Append(result, fmt.Errorf("log: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		result = multierror.Append(result, fmt.Errorf("log: invalid format %q, must be: text or json", c.Log.Format))
	}

	return result.ErrorOrNil()
}

// ParseLevel maps a level name onto slog.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid level %q", s)
	}
	return level, nil
}

// NewLogger builds the daemon logger.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := ParseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
