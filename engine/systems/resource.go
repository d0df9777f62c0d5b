package systems

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/spaghettifunk/anima-rhi/engine/assets"
	"github.com/spaghettifunk/anima-rhi/engine/containers"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/resources"
)

// FnCreateResourceLoader creates a new loader instance for one resource loader type.
type FnCreateResourceLoader func() resources.ResourceLoader

// releasable resources own backend objects that have to be destroyed with them.
type releasable interface {
	Release() error
}

/** @brief The configuration for a resource manager */
type ResourceManagerConfig struct {
	/** @brief The name used in log output. */
	Name string
	/** @brief The maximum number of resources alive at once. */
	MaxResourceCount uint32
}

/**
 * @brief ResourceManager owns every resource of one kind. Resources live in a packed
 * element store so their ids stay stable while the dense array is iterated.
 * The asset extension selects the resource loader type used by the streamer.
 */
type ResourceManager[T resources.Resource] struct {
	config      ResourceManagerConfig
	newResource func() T

	mutex     sync.RWMutex
	resources *containers.PackedElementManager[T]
	byAsset   map[assets.AssetID]resources.ResourceID
	// reloads asked for while the resource was loading, committed once that load finalizes
	pendingReloads map[resources.ResourceID]*assets.Asset

	loaderFactories map[resources.ResourceLoaderTypeID]FnCreateResourceLoader
	extensions      []string

	streamer     *ResourceStreamer
	assetPackage *assets.AssetPackage
}

func NewResourceManager[T resources.Resource](config ResourceManagerConfig, newResource func() T, streamer *ResourceStreamer, pkg *assets.AssetPackage) (*ResourceManager[T], error) {
	if config.MaxResourceCount == 0 {
		err := fmt.Errorf("func NewResourceManager '%s' - config.MaxResourceCount must be > 0", config.Name)
		core.LogError(err.Error())
		return nil, err
	}
	if newResource == nil || streamer == nil || pkg == nil {
		err := fmt.Errorf("func NewResourceManager '%s' - resource constructor, streamer and asset package are required", config.Name)
		core.LogError(err.Error())
		return nil, err
	}
	store, err := containers.NewPackedElementManager[T](config.MaxResourceCount)
	if err != nil {
		return nil, err
	}
	return &ResourceManager[T]{
		config:          config,
		newResource:     newResource,
		resources:       store,
		byAsset:         make(map[assets.AssetID]resources.ResourceID),
		pendingReloads:  make(map[resources.ResourceID]*assets.Asset),
		loaderFactories: make(map[resources.ResourceLoaderTypeID]FnCreateResourceLoader),
		streamer:        streamer,
		assetPackage:    pkg,
	}, nil
}

func (rm *ResourceManager[T]) Name() string {
	return rm.config.Name
}

// RegisterResourceLoader makes assets with the given extension loadable by this manager.
func (rm *ResourceManager[T]) RegisterResourceLoader(extension string, create FnCreateResourceLoader) error {
	extension = strings.ToLower(strings.TrimPrefix(extension, "."))
	typeID := resources.NewResourceLoaderTypeID(extension)

	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	if _, ok := rm.loaderFactories[typeID]; ok {
		return fmt.Errorf("%s: loader for extension '%s' already registered", rm.config.Name, extension)
	}
	rm.loaderFactories[typeID] = create
	rm.extensions = append(rm.extensions, extension)
	sort.Strings(rm.extensions)
	return nil
}

// Extensions lists the registered asset extensions, lower case and without dot.
func (rm *ResourceManager[T]) Extensions() []string {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()
	return append([]string(nil), rm.extensions...)
}

// LoadResourceByAssetID returns the resource of the asset and commits a load request
// when the resource is new or reload is set. A reload of a resource that is already
// loading is deferred until the running load finalizes.
func (rm *ResourceManager[T]) LoadResourceByAssetID(id assets.AssetID, reload bool) (T, error) {
	asset, err := rm.assetPackage.GetAsset(id)
	if err != nil {
		var zero T
		return zero, err
	}
	return rm.loadResource(asset, reload)
}

// LoadResourceByVirtualFilename registers the asset if needed and loads it.
func (rm *ResourceManager[T]) LoadResourceByVirtualFilename(virtualFilename string, reload bool) (T, error) {
	return rm.loadResource(rm.assetPackage.AddAsset(virtualFilename), reload)
}

// LoadAsset is LoadResourceByAssetID for callers that only know the asset.
func (rm *ResourceManager[T]) LoadAsset(asset *assets.Asset, reload bool) (resources.ResourceID, error) {
	r, err := rm.loadResource(asset, reload)
	if err != nil {
		return resources.InvalidResourceID, err
	}
	return r.ResourceID(), nil
}

func (rm *ResourceManager[T]) loadResource(asset *assets.Asset, reload bool) (T, error) {
	var zero T
	typeID := resources.NewResourceLoaderTypeID(asset.Extension())

	rm.mutex.Lock()
	if _, ok := rm.loaderFactories[typeID]; !ok {
		rm.mutex.Unlock()
		return zero, fmt.Errorf("%s: no loader for '%s': %w", rm.config.Name, asset.VirtualFilename, core.ErrUnknownResourceLoaderType)
	}

	var resource T
	commit := true
	if id, ok := rm.byAsset[asset.ID]; ok {
		resource = rm.resources.GetElementByID(id)
		state := resource.LoadingState()
		commit = state == resources.LoadingStateUnloaded || (reload && state != resources.LoadingStateLoading)
		if reload && state == resources.LoadingStateLoading {
			rm.pendingReloads[id] = asset
		}
	} else {
		added, err := rm.resources.AddElement(rm.newResource())
		if err != nil {
			rm.mutex.Unlock()
			return zero, fmt.Errorf("%s: add resource for '%s': %w", rm.config.Name, asset.VirtualFilename, err)
		}
		resource = added
		resource.SetAssetID(asset.ID)
		rm.byAsset[asset.ID] = resource.ResourceID()
		reload = false
	}
	if !commit {
		rm.mutex.Unlock()
		return resource, nil
	}
	// claimed under the lock so a concurrent load of the same asset does not commit twice
	resource.SetLoadingState(resources.LoadingStateLoading)
	rm.mutex.Unlock()

	req := resources.NewLoadRequest(asset, typeID, reload, rm, resource.ResourceID())
	if err := rm.streamer.CommitLoadRequest(req); err != nil {
		resource.SetLoadingState(resources.LoadingStateFailed)
		return resource, err
	}
	return resource, nil
}

// OnLoadRequestFinalized is called by the streamer on the dispatch goroutine.
func (rm *ResourceManager[T]) OnLoadRequestFinalized(id resources.ResourceID, state resources.LoadingState) {
	rm.mutex.Lock()
	asset, ok := rm.pendingReloads[id]
	delete(rm.pendingReloads, id)
	rm.mutex.Unlock()
	if !ok {
		return
	}

	core.LogDebug("%s: '%s' changed while loading, reloading", rm.config.Name, asset.VirtualFilename)
	if _, err := rm.loadResource(asset, true); err != nil {
		core.LogError("%s: deferred reload of '%s' failed: %s", rm.config.Name, asset.VirtualFilename, err)
	}
}

func (rm *ResourceManager[T]) GetResourceByResourceID(id resources.ResourceID) (resources.Resource, error) {
	r, ok := rm.TryGetResource(id)
	if !ok {
		return nil, fmt.Errorf("%s: resource %#x: %w", rm.config.Name, uint32(id), core.ErrUnknownResource)
	}
	return r, nil
}

func (rm *ResourceManager[T]) TryGetResource(id resources.ResourceID) (T, bool) {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()
	return rm.resources.TryGetElementByID(id)
}

func (rm *ResourceManager[T]) GetResourceByAssetID(id assets.AssetID) (T, bool) {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	resourceID, ok := rm.byAsset[id]
	if !ok {
		var zero T
		return zero, false
	}
	return rm.resources.TryGetElementByID(resourceID)
}

func (rm *ResourceManager[T]) CreateResourceLoaderInstance(typeID resources.ResourceLoaderTypeID) (resources.ResourceLoader, error) {
	rm.mutex.RLock()
	create, ok := rm.loaderFactories[typeID]
	rm.mutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: loader type %#08x: %w", rm.config.Name, uint32(typeID), core.ErrUnknownResourceLoaderType)
	}
	return create(), nil
}

// DestroyResource removes the resource and releases its backend objects.
// Resources still owned by the streamer cannot be destroyed.
func (rm *ResourceManager[T]) DestroyResource(id resources.ResourceID) error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	return rm.destroyResource(id)
}

func (rm *ResourceManager[T]) DestroyResourceByAssetID(id assets.AssetID) error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	resourceID, ok := rm.byAsset[id]
	if !ok {
		return fmt.Errorf("%s: asset %#08x: %w", rm.config.Name, uint32(id), core.ErrUnknownResource)
	}
	return rm.destroyResource(resourceID)
}

func (rm *ResourceManager[T]) destroyResource(id resources.ResourceID) error {
	resource, ok := rm.resources.TryGetElementByID(id)
	if !ok {
		return fmt.Errorf("%s: destroy resource %#x: %w", rm.config.Name, uint32(id), core.ErrUnknownResource)
	}
	if resource.LoadingState() == resources.LoadingStateLoading {
		return fmt.Errorf("%s: destroy resource %#x: %w", rm.config.Name, uint32(id), core.ErrResourceLoading)
	}

	var err error
	if r, ok := any(resource).(releasable); ok {
		err = r.Release()
	}
	delete(rm.byAsset, resource.AssetID())
	delete(rm.pendingReloads, id)
	if removeErr := rm.resources.RemoveElement(id); removeErr != nil {
		err = errors.Join(err, removeErr)
	}
	return err
}

// DestroyAllResources destroys every resource that is not loading.
func (rm *ResourceManager[T]) DestroyAllResources() error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	var errs []error
	for i := rm.resources.NumberOfElements(); i > 0; i-- {
		if rm.resources.ElementByIndex(i-1).LoadingState() == resources.LoadingStateLoading {
			continue
		}
		if err := rm.destroyResource(rm.resources.ElementIDByIndex(i - 1)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (rm *ResourceManager[T]) NumberOfResources() uint32 {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()
	return rm.resources.NumberOfElements()
}

// NumberOfResourcesInState counts the resources currently in state.
func (rm *ResourceManager[T]) NumberOfResourcesInState(state resources.LoadingState) uint32 {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	var count uint32
	for i := uint32(0); i < rm.resources.NumberOfElements(); i++ {
		if rm.resources.ElementByIndex(i).LoadingState() == state {
			count++
		}
	}
	return count
}

// Resources returns a snapshot of all resources in dense order.
func (rm *ResourceManager[T]) Resources() []T {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	out := make([]T, 0, rm.resources.NumberOfElements())
	for i := uint32(0); i < rm.resources.NumberOfElements(); i++ {
		out = append(out, rm.resources.ElementByIndex(i))
	}
	return out
}

// AssetResourceManager is the part of a resource manager the resource system routes assets to.
type AssetResourceManager interface {
	Name() string
	Extensions() []string
	LoadAsset(asset *assets.Asset, reload bool) (resources.ResourceID, error)
	DestroyResourceByAssetID(id assets.AssetID) error
	DestroyAllResources() error
	NumberOfResources() uint32
	NumberOfResourcesInState(state resources.LoadingState) uint32
}

/**
 * @brief ResourceSystem routes assets to the resource manager registered for their
 * extension. It does not own the managers' resources, only the routing table.
 */
type ResourceSystem struct {
	streamer     *ResourceStreamer
	assetPackage *assets.AssetPackage

	mutex       sync.RWMutex
	managers    []AssetResourceManager
	byExtension map[string]AssetResourceManager
}

func NewResourceSystem(streamer *ResourceStreamer, pkg *assets.AssetPackage) (*ResourceSystem, error) {
	if streamer == nil || pkg == nil {
		err := fmt.Errorf("func NewResourceSystem - streamer and asset package are required")
		core.LogError(err.Error())
		return nil, err
	}
	return &ResourceSystem{
		streamer:     streamer,
		assetPackage: pkg,
		byExtension:  make(map[string]AssetResourceManager),
	}, nil
}

func (rs *ResourceSystem) Streamer() *ResourceStreamer {
	return rs.streamer
}

func (rs *ResourceSystem) AssetPackage() *assets.AssetPackage {
	return rs.assetPackage
}

// RegisterResourceManager adds m to the routing table. An extension can only be served by one manager.
func (rs *ResourceSystem) RegisterResourceManager(m AssetResourceManager) error {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	for _, ext := range m.Extensions() {
		if other, ok := rs.byExtension[ext]; ok {
			return fmt.Errorf("extension '%s' of '%s' is already served by '%s'", ext, m.Name(), other.Name())
		}
	}
	for _, ext := range m.Extensions() {
		rs.byExtension[ext] = m
	}
	rs.managers = append(rs.managers, m)
	core.LogDebug("resource manager '%s' registered for %v", m.Name(), m.Extensions())
	return nil
}

func (rs *ResourceSystem) managerFor(asset *assets.Asset) (AssetResourceManager, bool) {
	rs.mutex.RLock()
	defer rs.mutex.RUnlock()
	m, ok := rs.byExtension[asset.Extension()]
	return m, ok
}

func (rs *ResourceSystem) LoadAsset(id assets.AssetID) (resources.ResourceID, error) {
	return rs.loadAsset(id, false)
}

func (rs *ResourceSystem) ReloadAsset(id assets.AssetID) (resources.ResourceID, error) {
	return rs.loadAsset(id, true)
}

func (rs *ResourceSystem) loadAsset(id assets.AssetID, reload bool) (resources.ResourceID, error) {
	asset, err := rs.assetPackage.GetAsset(id)
	if err != nil {
		return resources.InvalidResourceID, err
	}
	m, ok := rs.managerFor(asset)
	if !ok {
		return resources.InvalidResourceID, fmt.Errorf("no resource manager for '%s': %w", asset.VirtualFilename, core.ErrUnknownResourceLoaderType)
	}
	return m.LoadAsset(asset, reload)
}

// LoadAllAssets loads every registered asset some manager can serve and
// returns how many load requests were issued.
func (rs *ResourceSystem) LoadAllAssets() (int, error) {
	var (
		count int
		errs  []error
	)
	for _, asset := range rs.assetPackage.Assets() {
		m, ok := rs.managerFor(asset)
		if !ok {
			core.LogDebug("no resource manager for '%s', skipped", asset.VirtualFilename)
			continue
		}
		if _, err := m.LoadAsset(asset, false); err != nil {
			errs = append(errs, err)
			continue
		}
		count++
	}
	return count, errors.Join(errs...)
}

// OnAssetChanged reloads resources whose asset changed on disk.
func (rs *ResourceSystem) OnAssetChanged(asset *assets.Asset, kind assets.AssetChangeKind) {
	m, ok := rs.managerFor(asset)
	if !ok {
		return
	}
	switch kind {
	case assets.AssetChangeCreated, assets.AssetChangeModified:
		if _, err := m.LoadAsset(asset, true); err != nil {
			core.LogError("failed to reload '%s': %s", asset.VirtualFilename, err)
		}
	case assets.AssetChangeRemoved:
		if err := m.DestroyResourceByAssetID(asset.ID); err != nil && !errors.Is(err, core.ErrUnknownResource) {
			core.LogWarn("failed to destroy resource of removed asset '%s': %s", asset.VirtualFilename, err)
		}
	}
}

// NumberOfLoadingResources counts the resources still owned by the streamer.
func (rs *ResourceSystem) NumberOfLoadingResources() uint32 {
	rs.mutex.RLock()
	defer rs.mutex.RUnlock()

	var count uint32
	for _, m := range rs.managers {
		count += m.NumberOfResourcesInState(resources.LoadingStateLoading)
	}
	return count
}

// Shutdown destroys the resources of every manager, last registered first.
func (rs *ResourceSystem) Shutdown() error {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	var errs []error
	for i := len(rs.managers) - 1; i >= 0; i-- {
		if err := rs.managers[i].DestroyAllResources(); err != nil {
			errs = append(errs, err)
		}
	}
	rs.managers = nil
	rs.byExtension = make(map[string]AssetResourceManager)
	return errors.Join(errs...)
}
