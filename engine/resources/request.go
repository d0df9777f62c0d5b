package resources

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spaghettifunk/anima-rhi/engine/assets"
)

// LoadRequest is one unit of work moving through the streamer pipeline. Requests are
// passed between the stages by value, Asset and ResourceManager are borrowed.
type LoadRequest struct {
	// TraceID follows the request through the log output.
	TraceID              uuid.UUID
	Asset                *assets.Asset
	ResourceLoaderTypeID ResourceLoaderTypeID
	Reload               bool
	ResourceManager      ResourceManager
	ResourceID           ResourceID

	// Resource is resolved from ResourceManager when the request is committed.
	Resource Resource
	// ResourceLoader is nil until a loader instance is bound to the request.
	ResourceLoader ResourceLoader

	LoadingFailed bool
	Err           error
}

func NewLoadRequest(asset *assets.Asset, typeID ResourceLoaderTypeID, reload bool, manager ResourceManager, id ResourceID) LoadRequest {
	return LoadRequest{
		TraceID:              uuid.New(),
		Asset:                asset,
		ResourceLoaderTypeID: typeID,
		Reload:               reload,
		ResourceManager:      manager,
		ResourceID:           id,
	}
}

// Fail marks the request as failed. The first error wins.
func (r *LoadRequest) Fail(err error) {
	if !r.LoadingFailed {
		r.Err = err
	}
	r.LoadingFailed = true
}

func (r *LoadRequest) String() string {
	name := "<nil>"
	if r.Asset != nil {
		name = r.Asset.VirtualFilename
	}
	return fmt.Sprintf("load request %s '%s' (resource %#x)", r.TraceID.String()[:8], name, uint32(r.ResourceID))
}
