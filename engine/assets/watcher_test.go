package assets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordedChange struct {
	name string
	kind AssetChangeKind
}

func TestAssetWatcher_TracksDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "existing.mat"), []byte("a"), 0o644))

	fm, err := NewDiskFileManager(dir)
	require.NoError(t, err)
	pkg := NewAssetPackage("disk")

	var mutex sync.Mutex
	var changes []recordedChange
	aw, err := NewAssetWatcher(fm, pkg, func(asset *Asset, kind AssetChangeKind) {
		mutex.Lock()
		defer mutex.Unlock()
		changes = append(changes, recordedChange{asset.VirtualFilename, kind})
	})
	require.NoError(t, err)

	// files present at startup are registered without a notification
	_, ok := pkg.TryGetAsset(NewAssetID("existing.mat"))
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- aw.Run(ctx) }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "fresh.mat"), []byte("b"), 0o644))
	require.Eventually(t, func() bool {
		_, ok := pkg.TryGetAsset(NewAssetID("fresh.mat"))
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dir, "existing.mat")))
	require.Eventually(t, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		for _, c := range changes {
			if c.name == "existing.mat" && c.kind == AssetChangeRemoved {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	_, ok = pkg.TryGetAsset(NewAssetID("existing.mat"))
	require.False(t, ok)

	cancel()
	require.NoError(t, <-done)
}
