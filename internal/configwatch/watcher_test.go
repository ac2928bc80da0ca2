package configwatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/accesspoint/gateway/internal/registry"
	"github.com/stretchr/testify/require"
)

const initialYAML = `
upstreams:
  - id: up1
    nodes: {"127.0.0.1:9000": 1}
    type: RoundRobin
    scheme: http
    pass_host: pass
`

const updatedYAML = `
upstreams:
  - id: up1
    nodes: {"127.0.0.1:9000": 1}
    type: RoundRobin
    scheme: http
    pass_host: pass
  - id: up2
    nodes: {"127.0.0.1:9001": 1}
    type: RoundRobin
    scheme: http
    pass_host: pass
`

// TestWatcher_DebouncedReloadPublishesNewSnapshot covers the settle-then-
// publish half of spec §4.I: a write is debounced, then reparsed and
// published to the registry.
func TestWatcher_DebouncedReloadPublishesNewSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(initialYAML), 0o644))

	reg := registry.New()
	w, err := New(path, reg)
	require.NoError(t, err)

	// Run reacts only to file events, so the initial contents are loaded
	// directly, as the server does at bootstrap.
	w.reloadOnce(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		_, err := reg.Get(registry.TypeUpstream, "up1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(updatedYAML), 0o644))

	require.Eventually(t, func() bool {
		_, err := reg.Get(registry.TypeUpstream, "up2")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

// TestWatcher_InvalidFileRetainsOldSnapshot covers the retain-old-snapshot
// half: a malformed rewrite must not disturb the previously published state.
func TestWatcher_InvalidFileRetainsOldSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(initialYAML), 0o644))

	reg := registry.New()
	w, err := New(path, reg)
	require.NoError(t, err)

	// Run reacts only to file events, so the initial contents are loaded
	// directly, as the server does at bootstrap.
	w.reloadOnce(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		_, err := reg.Get(registry.TypeUpstream, "up1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o644))
	time.Sleep(500 * time.Millisecond)

	v, err := reg.Get(registry.TypeUpstream, "up1")
	require.NoError(t, err)
	require.NotNil(t, v)
}
