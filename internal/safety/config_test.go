package safety

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
max_actions_per_minute: 5
screen_width: 2560
screen_height: 1440
destructive_hotkeys:
  - modifiers: [meta]
    key: q
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxActionsPerMinute)
	assert.Equal(t, 100, cfg.MaxActionsPerTask)
	assert.Equal(t, 2560, cfg.ScreenWidth)
	require.Len(t, cfg.DestructiveHotkeys, 1)
	assert.Equal(t, "q", cfg.DestructiveHotkeys[0].Key)
}

func TestLoadConfig_InvalidCollectsAllErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
max_actions_per_minute: 0
screen_width: 0
blocked_patterns: ["(oops"]
`), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_actions_per_minute")
	assert.Contains(t, err.Error(), "screen bounds")
	assert.Contains(t, err.Error(), "(oops")
}
