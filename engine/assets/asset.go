package assets

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// AssetID identifies an asset by the hash of its virtual filename.
type AssetID = core.StringID

const InvalidAssetID AssetID = 0

/**
 * @brief An asset is the immutable description of something loadable:
 * an identity and the virtual filename of its backing data.
 */
type Asset struct {
	/** @brief The hash of the virtual filename. */
	ID AssetID
	/** @brief Forward slash separated path relative to the asset root, e.g. "textures/crate.png". */
	VirtualFilename string
}

// NewAsset normalizes virtualFilename and derives the asset id from it.
func NewAsset(virtualFilename string) *Asset {
	name := NormalizeVirtualFilename(virtualFilename)
	return &Asset{
		ID:              NewAssetID(name),
		VirtualFilename: name,
	}
}

func NewAssetID(virtualFilename string) AssetID {
	return core.NewStringIDFold(NormalizeVirtualFilename(virtualFilename))
}

// NormalizeVirtualFilename turns OS specific separators into forward slashes and cleans the path.
func NormalizeVirtualFilename(name string) string {
	name = path.Clean(filepath.ToSlash(name))
	return strings.TrimPrefix(name, "./")
}

// Extension returns the lower case extension without the leading dot.
func (a *Asset) Extension() string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(a.VirtualFilename)), ".")
}

func (a *Asset) String() string {
	return fmt.Sprintf("%s (%#08x)", a.VirtualFilename, uint32(a.ID))
}

// AssetPackage is the registry of every known asset. Safe for concurrent use.
// Asset pointers handed out stay valid after removal, so in-flight load
// requests never observe a dangling asset.
type AssetPackage struct {
	name   string
	mutex  sync.RWMutex
	assets map[AssetID]*Asset
}

func NewAssetPackage(name string) *AssetPackage {
	return &AssetPackage{
		name:   name,
		assets: make(map[AssetID]*Asset),
	}
}

func (ap *AssetPackage) Name() string {
	return ap.name
}

// AddAsset registers virtualFilename and returns its asset. Adding a known
// filename returns the already registered asset.
func (ap *AssetPackage) AddAsset(virtualFilename string) *Asset {
	asset := NewAsset(virtualFilename)

	ap.mutex.Lock()
	defer ap.mutex.Unlock()

	if existing, ok := ap.assets[asset.ID]; ok {
		if existing.VirtualFilename != asset.VirtualFilename {
			core.LogWarn("asset id collision between '%s' and '%s'", existing.VirtualFilename, asset.VirtualFilename)
		}
		return existing
	}
	ap.assets[asset.ID] = asset
	return asset
}

func (ap *AssetPackage) RemoveAsset(id AssetID) bool {
	ap.mutex.Lock()
	defer ap.mutex.Unlock()

	if _, ok := ap.assets[id]; !ok {
		return false
	}
	delete(ap.assets, id)
	return true
}

func (ap *AssetPackage) TryGetAsset(id AssetID) (*Asset, bool) {
	ap.mutex.RLock()
	defer ap.mutex.RUnlock()

	asset, ok := ap.assets[id]
	return asset, ok
}

func (ap *AssetPackage) GetAsset(id AssetID) (*Asset, error) {
	asset, ok := ap.TryGetAsset(id)
	if !ok {
		return nil, fmt.Errorf("asset %#08x in package '%s': %w", uint32(id), ap.name, core.ErrUnknownAsset)
	}
	return asset, nil
}

func (ap *AssetPackage) GetAssetByVirtualFilename(virtualFilename string) (*Asset, error) {
	return ap.GetAsset(NewAssetID(virtualFilename))
}

// Assets returns a snapshot of all registered assets sorted by virtual filename.
func (ap *AssetPackage) Assets() []*Asset {
	ap.mutex.RLock()
	out := make([]*Asset, 0, len(ap.assets))
	for _, a := range ap.assets {
		out = append(out, a)
	}
	ap.mutex.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].VirtualFilename < out[j].VirtualFilename
	})
	return out
}

func (ap *AssetPackage) NumberOfAssets() int {
	ap.mutex.RLock()
	defer ap.mutex.RUnlock()
	return len(ap.assets)
}

// Scan registers every file the lister knows about. Returns the number of new assets.
func (ap *AssetPackage) Scan(lister FileLister) (int, error) {
	names, err := lister.ListFiles()
	if err != nil {
		return 0, fmt.Errorf("scan asset package '%s': %w", ap.name, err)
	}
	before := ap.NumberOfAssets()
	for _, name := range names {
		ap.AddAsset(name)
	}
	added := ap.NumberOfAssets() - before
	core.LogDebug("asset package '%s' scanned %d files, %d new assets", ap.name, len(names), added)
	return added, nil
}
