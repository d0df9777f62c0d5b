package engine

import (
	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/systems"
)

// fullMipChain is larger than the mip count of any texture the backend accepts.
const fullMipChain uint32 = 32

func configureLogging(cfg config.Config) error {
	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	core.SetLogLevel(level)
	core.SetLogReportCaller(cfg.Log.ReportCaller)
	return nil
}

func backendConfig(cfg config.Config) (renderer.BackendConfig, error) {
	backendType, err := cfg.BackendType()
	if err != nil {
		return renderer.BackendConfig{}, err
	}
	return renderer.BackendConfig{
		Type:            backendType,
		ApplicationName: cfg.Application.Name,
		MaxHandles:      cfg.Renderer.MaxHandles,
		UploadLatency:   cfg.Renderer.UploadLatency.Duration,
	}, nil
}

func systemManagerConfig(cfg config.Config, events *core.EventSystem) systems.SystemManagerConfig {
	maxMipLevels := cfg.Resources.MaxMipLevels
	if maxMipLevels == 0 {
		maxMipLevels = fullMipChain
	}
	return systems.SystemManagerConfig{
		Streamer: systems.ResourceStreamerConfig{
			MaxLoaderInstancesPerType: cfg.Streamer.MaxLoaderInstancesPerType,
			FlushPollInterval:         cfg.Streamer.FlushPollInterval.Duration,
			Events:                    events,
		},
		Textures: systems.TextureSystemConfig{
			MaxTextureCount: cfg.Resources.MaxTextures,
			MaxMipLevels:    maxMipLevels,
		},
		Materials: systems.MaterialSystemConfig{
			MaxMaterialCount: cfg.Resources.MaxMaterials,
		},
		Meshes: systems.MeshSystemConfig{
			MaxMeshCount: cfg.Resources.MaxMeshes,
		},
	}
}
