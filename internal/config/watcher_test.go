package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskflow/internal/config"
	"github.com/slok/taskflow/internal/model"
	storageio "github.com/slok/taskflow/internal/storage/io"
)

type invalidations struct {
	mu  sync.Mutex
	ids []string
}

func (i *invalidations) Invalidate(id string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ids = append(i.ids, id)
}

func (i *invalidations) InvalidateAll() {}

func (i *invalidations) contains(id string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, v := range i.ids {
		if v == id {
			return true
		}
	}
	return false
}

func TestWatcherInvalidatesChangedProjects(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	inv := &invalidations{}
	w, err := config.NewWatcher(config.WatcherConfig{Dir: dir, Invalidator: inv})
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- w.Run(ctx) }()

	require.NoError(os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(os.WriteFile(filepath.Join(dir, "shop.yaml"), []byte("manual_testing: false\n"), 0o644))

	assert.Eventually(t, func() bool { return inv.contains("shop") }, 5*time.Second, 20*time.Millisecond)
	assert.False(t, inv.contains("notes"))

	cancel()
	require.NoError(<-done)
}

func TestWatcherWithResolverReloadsMode(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "shop.yaml")
	require.NoError(os.WriteFile(path, []byte("manual_testing: true\n"), 0o644))

	r, err := config.NewResolver(config.ResolverConfig{Repository: storageio.NewProjectConfigYAMLRepository(os.DirFS(dir))})
	require.NoError(err)

	mode, err := r.ResolveMode(ctx, "shop")
	require.NoError(err)
	require.Equal(model.ModeManual, mode.Testing)

	w, err := config.NewWatcher(config.WatcherConfig{Dir: dir, Invalidator: r})
	require.NoError(err)
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = w.Run(wctx) }()

	require.NoError(os.WriteFile(path, []byte("manual_testing: false\n"), 0o644))

	assert.Eventually(t, func() bool {
		mode, err := r.ResolveMode(ctx, "shop")
		return err == nil && mode.Testing == model.ModeAutomated
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNewWatcherMissingDir(t *testing.T) {
	_, err := config.NewWatcher(config.WatcherConfig{Dir: filepath.Join(t.TempDir(), "missing"), Invalidator: &invalidations{}})
	assert.Error(t, err)
}
