package assets

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/anima-rhi/engine/core"
)

type AssetChangeKind uint8

const (
	AssetChangeCreated AssetChangeKind = iota
	AssetChangeModified
	AssetChangeRemoved
)

func (k AssetChangeKind) String() string {
	switch k {
	case AssetChangeCreated:
		return "created"
	case AssetChangeModified:
		return "modified"
	case AssetChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// FnOnAssetChanged is invoked from the watcher goroutine.
type FnOnAssetChanged func(asset *Asset, kind AssetChangeKind)

/**
 * @brief AssetWatcher keeps an asset package in sync with a directory on disk.
 * Every directory below the root is watched, new directories are picked up as
 * they appear.
 */
type AssetWatcher struct {
	fileManager *DiskFileManager
	pkg         *AssetPackage
	onChange    FnOnAssetChanged

	fsnotify  *fsnotify.Watcher
	closeOnce sync.Once
	done      chan struct{}
}

func NewAssetWatcher(fileManager *DiskFileManager, pkg *AssetPackage, onChange FnOnAssetChanged) (*AssetWatcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	aw := &AssetWatcher{
		fileManager: fileManager,
		pkg:         pkg,
		onChange:    onChange,
		fsnotify:    fsWatch,
		done:        make(chan struct{}),
	}
	if err := aw.watchRecursive(fileManager.BaseDir()); err != nil {
		fsWatch.Close()
		return nil, err
	}
	return aw, nil
}

// Run processes file system events until ctx is cancelled or Close is called.
func (aw *AssetWatcher) Run(ctx context.Context) error {
	defer aw.Close()
	for {
		select {
		case e, ok := <-aw.fsnotify.Events:
			if !ok {
				return nil
			}
			aw.handleEvent(e)

		case err, ok := <-aw.fsnotify.Errors:
			if !ok {
				return nil
			}
			core.LogError("asset watcher: %s", err.Error())

		case <-ctx.Done():
			return nil

		case <-aw.done:
			return nil
		}
	}
}

func (aw *AssetWatcher) Close() error {
	var err error
	aw.closeOnce.Do(func() {
		close(aw.done)
		err = aw.fsnotify.Close()
	})
	return err
}

func (aw *AssetWatcher) handleEvent(e fsnotify.Event) {
	if e.Op&fsnotify.Create != 0 {
		if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
			if err := aw.watchRecursive(e.Name); err != nil {
				core.LogError("asset watcher: failed to watch '%s': %s", e.Name, err.Error())
			}
			return
		}
	}

	name, err := aw.fileManager.VirtualFilename(e.Name)
	if err != nil || isHidden(name) {
		return
	}

	switch {
	case e.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// can't stat a removed path, it may have been a watched directory
		_ = aw.fsnotify.Remove(e.Name)
		asset, ok := aw.pkg.TryGetAsset(NewAssetID(name))
		if !ok {
			return
		}
		aw.pkg.RemoveAsset(asset.ID)
		aw.notify(asset, AssetChangeRemoved)
	case e.Op&fsnotify.Create != 0:
		aw.notify(aw.pkg.AddAsset(name), AssetChangeCreated)
	case e.Op&fsnotify.Write != 0:
		kind := AssetChangeModified
		if _, ok := aw.pkg.TryGetAsset(NewAssetID(name)); !ok {
			kind = AssetChangeCreated
		}
		aw.notify(aw.pkg.AddAsset(name), kind)
	}
}

func (aw *AssetWatcher) notify(asset *Asset, kind AssetChangeKind) {
	core.LogDebug("asset '%s' %s", asset.VirtualFilename, kind)
	if aw.onChange != nil {
		aw.onChange(asset, kind)
	}
}

// watchRecursive adds root and every directory below it to the watch list and
// registers the files found on the way.
func (aw *AssetWatcher) watchRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return aw.fsnotify.Add(path)
		}
		if name, err := aw.fileManager.VirtualFilename(path); err == nil {
			aw.pkg.AddAsset(name)
		}
		return nil
	})
}

func isHidden(virtualFilename string) bool {
	for _, part := range strings.Split(virtualFilename, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
