package core

import (
	"errors"
)

var (
	// ErrAssetUnavailable is returned when the backing file of an asset cannot be opened.
	ErrAssetUnavailable = errors.New("asset unavailable")
	// ErrUnknownAsset is returned when an asset id is not registered in the asset package.
	ErrUnknownAsset = errors.New("unknown asset")
	// ErrUnknownResourceLoaderType signals a broken streamer contract: a loader type record vanished.
	ErrUnknownResourceLoaderType = errors.New("unknown resource loader type")
	ErrUnknownResource           = errors.New("unknown resource")
	ErrStreamerShutdown          = errors.New("resource streamer is shut down")
	// ErrResourceLoading is returned when a resource cannot be touched while the streamer owns it.
	ErrResourceLoading = errors.New("resource is loading")

	ErrIDsExhausted       = errors.New("no free ids left")
	ErrInvalidID          = errors.New("invalid id")
	ErrInvalidElementID   = errors.New("invalid element id")
	ErrCapacityExceeded   = errors.New("capacity exceeded")
	ErrBackendUnavailable = errors.New("renderer backend not available in this build")
)
