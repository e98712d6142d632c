package safety

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatch_ReloadsPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_actions_per_minute: 30\n"), 0o600))

	g, err := New(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, g, nil) }()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool {
		// Rewrite until the watcher has registered and picked it up.
		_ = os.WriteFile(path, []byte("max_actions_per_minute: 7\n"), 0o600)
		return g.Config().MaxActionsPerMinute == 7
	}, 5*time.Second, 50*time.Millisecond)

	// A broken file keeps the previous policy.
	require.NoError(t, os.WriteFile(path, []byte("max_actions_per_minute: [\n"), 0o600))
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, 7, g.Config().MaxActionsPerMinute)
}
