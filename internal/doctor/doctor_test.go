package doctor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/deskpilot/internal/config"
	"github.com/fentz26/deskpilot/internal/mcp"
	"github.com/fentz26/deskpilot/internal/planner"
)

func fakeDetector(paths map[string]string, env map[string]string) *Detector {
	return &Detector{
		lookPath: func(file string) (string, error) {
			if p, ok := paths[file]; ok {
				return p, nil
			}
			return "", errors.New("not found")
		},
		getenv:  func(key string) string { return env[key] },
		version: func(cmd, flag string) string { return cmd + " 1.0" },
	}
}

func byID(checks []Check) map[string]Check {
	out := make(map[string]Check, len(checks))
	for _, c := range checks {
		out[c.ID] = c
	}
	return out
}

func TestScan_LocalConnector(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Desktop.Connector = config.ConnectorLocal
	cfg.Planner = planner.Config{Providers: []planner.ProviderConfig{{Name: "openai", APIKeyEnv: "OPENAI_API_KEY"}}}

	d := fakeDetector(map[string]string{"xdotool": "/usr/bin/xdotool"}, map[string]string{"DISPLAY": ":0", "OPENAI_API_KEY": "sk"})
	checks := byID(d.Scan(cfg))

	assert.Equal(t, StatusOK, checks["display"].Status)
	assert.Equal(t, ":0", checks["display"].Detail)
	assert.Equal(t, StatusOK, checks["xdotool"].Status)
	assert.Equal(t, "/usr/bin/xdotool 1.0", checks["xdotool"].Version)
	assert.Equal(t, StatusMissing, checks["import"].Status)
	assert.Equal(t, StatusOK, checks["provider:openai"].Status)
	assert.False(t, Healthy(d.Scan(cfg)))
}

func TestScan_Display(t *testing.T) {
	d := fakeDetector(nil, map[string]string{"WAYLAND_DISPLAY": "wayland-0"})
	assert.Equal(t, StatusWarn, d.detectDisplay("").Status)
	assert.Equal(t, StatusOK, d.detectDisplay(":1").Status)
	assert.Equal(t, StatusMissing, fakeDetector(nil, nil).detectDisplay("").Status)
}

func TestScan_MCPHosts(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Desktop.Connector = config.ConnectorMCP
	cfg.Hosts = &mcp.Config{Hosts: []mcp.Host{
		{Name: "local", Transport: mcp.TransportStdio, Command: "desktop-mcp", Enabled: true},
		{Name: "lab", Transport: mcp.TransportHTTP, URL: "http://lab:8080/mcp", Enabled: true},
		{Name: "old", Transport: mcp.TransportStdio, Command: "gone", Enabled: false},
	}}
	cfg.Planner = planner.Config{Providers: []planner.ProviderConfig{{Name: "claude", APIKeyEnv: "ANTHROPIC_API_KEY"}}}

	d := fakeDetector(map[string]string{"desktop-mcp": "/opt/bin/desktop-mcp"}, nil)
	checks := d.Scan(cfg)
	require.Len(t, checks, 4)
	got := byID(checks)
	assert.Equal(t, StatusOK, got["host:local"].Status)
	assert.Equal(t, "/opt/bin/desktop-mcp", got["host:local"].Path)
	assert.Equal(t, StatusOK, got["host:lab"].Status)
	assert.Equal(t, StatusSkipped, got["host:old"].Status)
	assert.Equal(t, StatusMissing, got["provider:claude"].Status)
	assert.False(t, Healthy(checks))
}
