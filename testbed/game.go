package testbed

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine"
	"github.com/spaghettifunk/anima-rhi/engine/assets"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/resources"
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	DeltaTime float64
	Elapsed   float64

	// quit once every asset streamed in, otherwise keep running for hot reload
	quitWhenLoaded bool
	loadsStarted   bool
	reported       bool

	loaded uint32
	failed uint32
}

func NewTestGame(quitWhenLoaded bool) (*TestGame, error) {
	tg := &TestGame{
		Game: &engine.Game{
			State: &gameState{
				quitWhenLoaded: quitWhenLoaded,
			},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnShutdown = tg.Shutdown

	return tg, nil
}

func (g *TestGame) Initialize() error {
	core.LogInfo("initializing testbed...")
	state := g.State.(*gameState)

	g.Events.Register(core.EventCodeResourceLoaded, g, g.onResourceEvent)
	g.Events.Register(core.EventCodeResourceFailed, g, g.onResourceEvent)
	g.Events.Register(core.EventCodeAssetChanged, g, g.onResourceEvent)

	n, err := g.SystemManager.ResourceSystem().LoadAllAssets()
	if err != nil {
		// assets without a resource manager are skipped, anything else is fatal
		core.LogError("failed to load assets: %s", err)
		return err
	}
	core.LogInfo("%d load requests committed", n)
	state.loadsStarted = true
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	state := g.State.(*gameState)
	state.DeltaTime = deltaTime
	state.Elapsed += deltaTime

	if !state.loadsStarted || state.reported {
		return nil
	}
	if g.SystemManager.ResourceSystem().NumberOfLoadingResources() > 0 {
		return nil
	}

	state.reported = true
	g.report()
	if state.quitWhenLoaded {
		g.Events.Fire(core.EventCodeApplicationQuit, g, core.EventContext{})
	}
	return nil
}

func (g *TestGame) report() {
	state := g.State.(*gameState)
	sm := g.SystemManager
	pkg := sm.ResourceSystem().AssetPackage()

	stats := sm.Streamer().Stats()
	core.LogInfo("streaming done after %.3fs: %d loaded, %d failed (%d committed, %d finalized)",
		state.Elapsed, state.loaded, state.failed, stats.Committed, stats.Finalized)

	for _, mat := range sm.MaterialSystem().Resources() {
		if mat.LoadingState() != resources.LoadingStateLoaded {
			continue
		}
		diffuseLoaded := false
		if tex, ok := sm.TextureSystem().TryGetResource(mat.Textures().Diffuse); ok {
			diffuseLoaded = tex.IsReady()
		}
		core.LogInfo("material '%s' shininess=%.1f diffuse=%v (diffuse map loaded: %t)",
			mat.Name(), mat.Shininess(), mat.DiffuseColour(), diffuseLoaded)
	}
	for _, mesh := range sm.MeshSystem().Resources() {
		if mesh.LoadingState() != resources.LoadingStateLoaded {
			continue
		}
		vertices, indices := mesh.Counts()
		extents := mesh.Extents()
		core.LogInfo("mesh '%s' %d vertices, %d indices, extents %v..%v",
			assetName(pkg, mesh.AssetID()), vertices, indices, extents.Min, extents.Max)
	}
	for _, tex := range sm.TextureSystem().Resources() {
		if tex.LoadingState() != resources.LoadingStateLoaded {
			continue
		}
		desc := tex.Description()
		core.LogInfo("texture '%s' %dx%d with %d mips", assetName(pkg, tex.AssetID()), desc.Width, desc.Height, desc.MipLevels)
	}
}

func assetName(pkg *assets.AssetPackage, id assets.AssetID) string {
	if asset, ok := pkg.TryGetAsset(id); ok {
		return asset.VirtualFilename
	}
	return fmt.Sprintf("%#x", uint32(id))
}

func (g *TestGame) Shutdown() error {
	core.LogInfo("shutting down testbed...")
	g.Events.Unregister(core.EventCodeResourceLoaded, g, g.onResourceEvent)
	g.Events.Unregister(core.EventCodeResourceFailed, g, g.onResourceEvent)
	g.Events.Unregister(core.EventCodeAssetChanged, g, g.onResourceEvent)
	return nil
}

func (g *TestGame) onResourceEvent(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
	state := g.State.(*gameState)
	switch code {
	case core.EventCodeResourceLoaded:
		state.loaded++
	case core.EventCodeResourceFailed:
		state.failed++
		core.LogWarn("resource %d of asset %d failed to load", data.U32[0], data.U32[1])
	case core.EventCodeAssetChanged:
		core.LogInfo("asset '%s' changed, reloading", data.Name)
		// report again once the reload settled
		state.reported = false
	}
	return false
}
