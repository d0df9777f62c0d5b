package resources

import (
	"fmt"
	"sync/atomic"

	"github.com/spaghettifunk/anima-rhi/engine/assets"
	"github.com/spaghettifunk/anima-rhi/engine/containers"
	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// ResourceID is the stable id of a resource slot inside its resource manager.
type ResourceID = containers.ElementID

const InvalidResourceID ResourceID = containers.InvalidElementID

// ResourceLoaderTypeID selects the loader strategy of a resource kind. It is
// derived from the asset file extension.
type ResourceLoaderTypeID = core.StringID

func NewResourceLoaderTypeID(extension string) ResourceLoaderTypeID {
	return core.NewStringIDFold(extension)
}

type LoadingState uint32

/** @brief The loading states of a resource. */
const (
	/** @brief Created but never committed to the streamer. */
	LoadingStateUnloaded LoadingState = iota
	/** @brief Somewhere in the streamer pipeline. */
	LoadingStateLoading
	/** @brief Finalized, the resource data is usable. */
	LoadingStateLoaded
	/** @brief Finalized after a failed stage, the resource data must not be used. */
	LoadingStateFailed
)

func (s LoadingState) String() string {
	switch s {
	case LoadingStateUnloaded:
		return "UNLOADED"
	case LoadingStateLoading:
		return "LOADING"
	case LoadingStateLoaded:
		return "LOADED"
	case LoadingStateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("LoadingState(%d)", uint32(s))
	}
}

// Resource is implemented by everything a resource manager stores.
// The loading state is written by the resource streamer only.
type Resource interface {
	containers.Element

	ResourceID() ResourceID
	AssetID() assets.AssetID
	SetAssetID(id assets.AssetID)
	LoadingState() LoadingState
	SetLoadingState(state LoadingState)
}

/**
 * @brief ResourceBase implements the bookkeeping part of Resource.
 * Embed it in concrete resource types.
 */
type ResourceBase struct {
	id      atomic.Uint32
	assetID atomic.Uint32
	state   atomic.Uint32
}

func (r *ResourceBase) InitializeElement(id containers.ElementID) {
	r.id.Store(uint32(id))
	r.state.Store(uint32(LoadingStateUnloaded))
}

func (r *ResourceBase) DeinitializeElement() {
	r.id.Store(uint32(InvalidResourceID))
	r.state.Store(uint32(LoadingStateUnloaded))
}

func (r *ResourceBase) ResourceID() ResourceID {
	return ResourceID(r.id.Load())
}

func (r *ResourceBase) AssetID() assets.AssetID {
	return assets.AssetID(r.assetID.Load())
}

func (r *ResourceBase) SetAssetID(id assets.AssetID) {
	r.assetID.Store(uint32(id))
}

func (r *ResourceBase) LoadingState() LoadingState {
	return LoadingState(r.state.Load())
}

func (r *ResourceBase) SetLoadingState(state LoadingState) {
	r.state.Store(uint32(state))
}

// IsReady reports whether the resource finished loading successfully.
func (r *ResourceBase) IsReady() bool {
	return r.LoadingState() == LoadingStateLoaded
}
