package systems

import (
	"errors"

	"github.com/spaghettifunk/anima-rhi/engine/assets"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
)

type SystemManagerConfig struct {
	Streamer  ResourceStreamerConfig
	Textures  TextureSystemConfig
	Materials MaterialSystemConfig
	Meshes    MeshSystemConfig
}

// SystemManager creates the streamer and every resource system on top of it.
type SystemManager struct {
	streamer       *ResourceStreamer
	textureSystem  *TextureSystem
	materialSystem *MaterialSystem
	meshSystem     *MeshSystem
	resourceSystem *ResourceSystem
}

func NewSystemManager(config SystemManagerConfig, fm assets.FileManager, pkg *assets.AssetPackage, backend renderer.Backend) (*SystemManager, error) {
	streamer, err := NewResourceStreamer(config.Streamer, fm)
	if err != nil {
		return nil, err
	}
	sm := &SystemManager{streamer: streamer}

	if err := sm.create(config, pkg, backend); err != nil {
		return nil, errors.Join(err, streamer.Shutdown())
	}
	return sm, nil
}

func (sm *SystemManager) create(config SystemManagerConfig, pkg *assets.AssetPackage, backend renderer.Backend) error {
	ts, err := NewTextureSystem(config.Textures, sm.streamer, pkg, backend)
	if err != nil {
		return err
	}
	ms, err := NewMaterialSystem(config.Materials, sm.streamer, pkg, backend, ts)
	if err != nil {
		return err
	}
	mesh, err := NewMeshSystem(config.Meshes, sm.streamer, pkg, backend)
	if err != nil {
		return err
	}
	rs, err := NewResourceSystem(sm.streamer, pkg)
	if err != nil {
		return err
	}
	for _, m := range []AssetResourceManager{ts, ms, mesh} {
		if err := rs.RegisterResourceManager(m); err != nil {
			return err
		}
	}

	sm.textureSystem = ts
	sm.materialSystem = ms
	sm.meshSystem = mesh
	sm.resourceSystem = rs
	return nil
}

func (sm *SystemManager) Streamer() *ResourceStreamer {
	return sm.streamer
}

func (sm *SystemManager) TextureSystem() *TextureSystem {
	return sm.textureSystem
}

func (sm *SystemManager) MaterialSystem() *MaterialSystem {
	return sm.materialSystem
}

func (sm *SystemManager) MeshSystem() *MeshSystem {
	return sm.meshSystem
}

func (sm *SystemManager) ResourceSystem() *ResourceSystem {
	return sm.resourceSystem
}

// Shutdown stops the streamer first so no loader touches a resource while it is destroyed.
// Requests still in flight leave their resources in the loading state, those are reported.
func (sm *SystemManager) Shutdown(flush bool) error {
	if flush {
		sm.streamer.FlushAllQueues()
	}
	if err := sm.streamer.Shutdown(); err != nil {
		return err
	}
	if n := sm.resourceSystem.NumberOfLoadingResources(); n > 0 {
		core.LogWarn("%d resources were still loading at shutdown and are leaked", n)
	}
	return sm.resourceSystem.Shutdown()
}
