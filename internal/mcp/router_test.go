package mcp

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		Hosts: []Host{
			{Name: "local", Transport: TransportStdio, Command: "desktop-mcp", Priority: 100, Enabled: true},
			{Name: "lab", Transport: TransportHTTP, URL: "http://lab:8080/mcp", Priority: 50, Enabled: true},
			{Name: "spare", Transport: TransportHTTP, URL: "http://spare:8080/mcp", Priority: 10, Enabled: true},
		},
		Default:  "local",
		Bindings: []Binding{{Pattern: `^lab-`, Host: "lab"}},
	}
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistryFromConfig(testConfig())
	require.NoError(t, err)
	assert.Equal(t, 3, reg.Count())

	h, ok := reg.Get("lab")
	require.True(t, ok)
	assert.Equal(t, "screenshot", h.Tools.Screenshot, "tool names default")

	// Copies are detached from the registry.
	h.Enabled = false
	again, _ := reg.Get("lab")
	assert.True(t, again.Enabled)

	require.NoError(t, reg.Disable("local"))
	names := []string{}
	for _, h := range reg.GetEnabled() {
		names = append(names, h.Name)
	}
	assert.Equal(t, []string{"lab", "spare"}, names)
	assert.Len(t, reg.List(), 3)
	assert.Error(t, reg.Enable("ghost"))
	assert.Error(t, reg.Register(Host{}))
}

func TestRouter_Route(t *testing.T) {
	cfg := testConfig()
	reg, err := NewRegistryFromConfig(cfg)
	require.NoError(t, err)
	router, err := NewRouter(cfg, reg)
	require.NoError(t, err)

	tests := []struct {
		session  string
		wantHost string
		wantRule string
	}{
		{"lab-42", "lab", "^lab-"},
		{"desk-1", "local", "default"},
	}
	for _, tt := range tests {
		t.Run(tt.session, func(t *testing.T) {
			res, err := router.Route(tt.session)
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, res.Host.Name)
			assert.Equal(t, tt.wantRule, res.MatchedRule)
		})
	}

	require.NoError(t, router.Pin("desk-1", "spare"))
	res, err := router.Route("desk-1")
	require.NoError(t, err)
	assert.Equal(t, "spare", res.Host.Name)
	assert.Equal(t, "pin", res.MatchedRule)
	router.Unpin("desk-1")
	assert.Error(t, router.Pin("desk-1", "ghost"))

	// Disabled targets fall through to the next rule.
	require.NoError(t, reg.Disable("lab"))
	res, err = router.Route("lab-42")
	require.NoError(t, err)
	assert.Equal(t, "local", res.Host.Name)

	require.NoError(t, reg.Disable("local"))
	res, err = router.Route("desk-1")
	require.NoError(t, err)
	assert.Equal(t, "spare", res.Host.Name)
	assert.Equal(t, "priority", res.MatchedRule)

	require.NoError(t, reg.Disable("spare"))
	_, err = router.Route("desk-1")
	assert.ErrorIs(t, err, ErrNoHost)
}

type fakeCaller struct {
	mu     sync.Mutex
	closed bool
	err    error
}

func (f *fakeCaller) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	return &ToolResult{Text: name}, nil
}

func (f *fakeCaller) ListTools(ctx context.Context) ([]string, error) { return nil, nil }

func (f *fakeCaller) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.err
}

func TestPool(t *testing.T) {
	reg, err := NewRegistryFromConfig(testConfig())
	require.NoError(t, err)

	dials := map[string]int{}
	callers := map[string]*fakeCaller{}
	pool := NewPool(reg, func(ctx context.Context, host Host) (ToolCaller, error) {
		dials[host.Name]++
		c := &fakeCaller{}
		if host.Name == "spare" {
			c.err = errors.New("broken pipe")
		}
		callers[host.Name] = c
		return c, nil
	}, nil)
	ctx := context.Background()

	a, err := pool.Get(ctx, "local")
	require.NoError(t, err)
	b, err := pool.Get(ctx, "local")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, dials["local"])

	pool.Evict("local")
	assert.True(t, callers["local"].closed)
	_, err = pool.Get(ctx, "local")
	require.NoError(t, err)
	assert.Equal(t, 2, dials["local"])

	_, err = pool.Get(ctx, "ghost")
	assert.Error(t, err)
	require.NoError(t, reg.Disable("lab"))
	_, err = pool.Get(ctx, "lab")
	assert.ErrorContains(t, err, "disabled")

	_, err = pool.Get(ctx, "spare")
	require.NoError(t, err)
	assert.Equal(t, []string{"local", "spare"}, pool.Connected())

	err = pool.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
	_, err = pool.Get(ctx, "local")
	assert.Error(t, err)
}
