package resources

import "github.com/spaghettifunk/anima-rhi/engine/assets"

/**
 * @brief A resource loader is a reusable, stateful strategy that loads one resource at a time.
 * The streamer calls the hooks in order, each from a fixed goroutine:
 * Initialize and OnDeserialization from the deserialization goroutine, OnProcessing from
 * the processing goroutine, OnDispatch and IsFullyLoaded from the goroutine owning the
 * renderer backend. A loader is never used by two requests at the same time.
 */
type ResourceLoader interface {
	TypeID() ResourceLoaderTypeID
	// Initialize binds the loader to a new request and resets all per-request state.
	Initialize(asset *assets.Asset, reload bool, resource Resource)
	// HasDeserialization reports whether the asset file has to be opened for OnDeserialization.
	HasDeserialization() bool
	// OnDeserialization reads the asset file. Blocking I/O is fine here.
	OnDeserialization(file assets.File) error
	// OnProcessing runs CPU side work on the deserialized data.
	OnProcessing() error
	// OnDispatch pushes the data into the backend. It returns true once the resource
	// is complete, false if IsFullyLoaded has to be polled in later frames.
	OnDispatch() (bool, error)
	IsFullyLoaded() bool
	Asset() *assets.Asset
}

// ResourceManager owns resources of one kind and creates the loaders for them.
type ResourceManager interface {
	GetResourceByResourceID(id ResourceID) (Resource, error)
	CreateResourceLoaderInstance(typeID ResourceLoaderTypeID) (ResourceLoader, error)
}

// FinalizeObserver is implemented by resource managers that want to know when the streamer
// finished one of their requests. The call happens on the dispatch goroutine after the
// resource state was set and before the request stops counting as in flight.
type FinalizeObserver interface {
	OnLoadRequestFinalized(id ResourceID, state LoadingState)
}
