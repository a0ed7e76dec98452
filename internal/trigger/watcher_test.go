package trigger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSyncer struct {
	mu       sync.Mutex
	requests int
}

func (c *countingSyncer) RequestSync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests++
}

func (c *countingSyncer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests
}

type chanKicker chan struct{}

func (c chanKicker) Kick() {
	select {
	case c <- struct{}{}:
	default:
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func startWatcher(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func waitKick(t *testing.T, k chanKicker) {
	t.Helper()
	select {
	case <-k:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for kick")
	}
}

func TestResync(t *testing.T) {
	a, b := &countingSyncer{}, &countingSyncer{}
	k := make(chanKicker, 1)

	Resync([]Syncer{a, b}, k)

	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
	assert.Len(t, k, 1)
}

func TestWatch_HandlesExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, KickFile), nil, 0o600))

	k := make(chanKicker, 4)
	startWatcher(t, NewWatcher(dir, nil, k, discard()))

	waitKick(t, k)
	assert.NoFileExists(t, filepath.Join(dir, KickFile))
}

func TestWatch_ResyncFile(t *testing.T) {
	dir := t.TempDir()
	cal, ab := &countingSyncer{}, &countingSyncer{}
	k := make(chanKicker, 4)
	startWatcher(t, NewWatcher(dir, []Syncer{cal, ab}, k, discard()))

	// Give the watch a moment to register before writing.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(dir, ResyncFile), []byte("now"), 0o600)
		select {
		case <-k:
			return true
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	assert.GreaterOrEqual(t, cal.count(), 1)
	assert.GreaterOrEqual(t, ab.count(), 1)
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, ResyncFile))
		return os.IsNotExist(err)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(other, nil, 0o600))

	w := NewWatcher(dir, nil, make(chanKicker, 1), discard())
	w.handle(other)

	assert.FileExists(t, other)
}

func TestWatch_CreatesControlDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "control")
	startWatcher(t, NewWatcher(dir, nil, make(chanKicker, 1), discard()))

	require.Eventually(t, func() bool {
		info, err := os.Stat(dir)
		return err == nil && info.IsDir()
	}, 5*time.Second, 10*time.Millisecond)
}
