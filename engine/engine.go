package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spaghettifunk/anima-rhi/engine/assets"
	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

type Engine struct {
	config       config.Config
	currentStage Stage
	gameInstance *Game
	isRunning    atomic.Bool

	clock    *core.Clock
	lastTime time.Duration
	metrics  *core.FrameMetrics
	frames   uint64

	events        *core.EventSystem
	backend       renderer.Backend
	fileManager   *assets.DiskFileManager
	assetPackage  *assets.AssetPackage
	systemManager *systems.SystemManager
	jobSystem     *systems.JobSystem
	watcher       *assets.AssetWatcher
}

func New(cfg config.Config, g *Game) (*Engine, error) {
	if g == nil || g.FnUpdate == nil {
		return nil, fmt.Errorf("engine.New requires a game with an update function")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := configureLogging(cfg); err != nil {
		return nil, err
	}

	e := &Engine{
		config:       cfg,
		currentStage: EngineStageBooting,
		gameInstance: g,
		clock:        core.NewClock(),
		metrics:      core.NewFrameMetrics(),
		events:       core.NewEventSystem(),
	}

	fm, err := assets.NewDiskFileManager(cfg.Assets.Directory)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	e.fileManager = fm
	e.assetPackage = assets.NewAssetPackage(cfg.Application.Name)

	e.currentStage = EngineStageBootComplete
	return e, nil
}

func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageBootComplete {
		return fmt.Errorf("engine cannot initialize in stage %d", e.currentStage)
	}
	e.currentStage = EngineStageInitializing

	e.events.Register(core.EventCodeApplicationQuit, e, e.onEvent)

	bc, err := backendConfig(e.config)
	if err != nil {
		return err
	}
	if e.backend, err = renderer.NewBackend(bc); err != nil {
		return err
	}

	if e.systemManager, err = systems.NewSystemManager(systemManagerConfig(e.config, e.events), e.fileManager, e.assetPackage, e.backend); err != nil {
		return err
	}
	if e.jobSystem, err = systems.NewJobSystem(2, 64); err != nil {
		return err
	}

	n, err := e.assetPackage.Scan(e.fileManager)
	if err != nil {
		return err
	}
	core.LogInfo("%d assets found in '%s'", n, e.fileManager.BaseDir())

	if e.config.Assets.Watch {
		if e.watcher, err = assets.NewAssetWatcher(e.fileManager, e.assetPackage, e.onAssetChanged); err != nil {
			return err
		}
	}

	e.gameInstance.SystemManager = e.systemManager
	e.gameInstance.Events = e.events
	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(); err != nil {
			core.LogError("game failed to initialize: %s", err)
			return err
		}
	}

	e.currentStage = EngineStageInitialized
	return nil
}

// Run drives the frame loop until the game quits, MaxFrames is reached or ctx is cancelled.
// The frame loop owns the renderer backend, the asset watcher runs next to it.
func (e *Engine) Run(ctx context.Context) error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine cannot run in stage %d", e.currentStage)
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	if e.watcher != nil {
		g.Go(func() error {
			return e.watcher.Run(ctx)
		})
	}
	g.Go(func() error {
		defer cancel()
		return e.frameLoop(ctx)
	})
	return g.Wait()
}

func (e *Engine) frameLoop(ctx context.Context) error {
	var targetFrameTime time.Duration
	if rate := e.config.Application.TargetFrameRate; rate > 0 {
		targetFrameTime = time.Second / time.Duration(rate)
	}

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning.Load() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// Update clock and get delta time.
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime
		frameStart := time.Now()

		e.jobSystem.Update()

		if err := e.gameInstance.FnUpdate(delta.Seconds()); err != nil {
			core.LogError("Game update failed, shutting down: %s", err)
			return err
		}

		if err := e.backend.BeginFrame(delta); err != nil {
			return err
		}
		e.systemManager.Streamer().Dispatch()
		if err := e.backend.EndFrame(delta); err != nil {
			return err
		}

		frameElapsed := time.Since(frameStart)
		e.metrics.Update(frameElapsed)
		e.frames++
		if limit := e.config.Application.MaxFrames; limit > 0 && e.frames >= limit {
			core.LogInfo("frame limit of %d reached", limit)
			e.isRunning.Store(false)
		}

		// If there is time left, give it back to the OS.
		if remaining := targetFrameTime - frameElapsed; remaining > 0 && e.isRunning.Load() {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(remaining):
			}
		}

		e.lastTime = currentTime
	}
	return nil
}

// Quit asks the frame loop to stop after the current frame. Safe to call from any goroutine.
func (e *Engine) Quit() {
	e.events.Fire(core.EventCodeApplicationQuit, e, core.EventContext{})
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShuttingDown || e.currentStage < EngineStageInitialized {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.isRunning.Store(false)
	e.clock.Stop()

	var errs []error
	if e.gameInstance.FnShutdown != nil {
		errs = append(errs, e.gameInstance.FnShutdown())
	}
	if e.watcher != nil {
		errs = append(errs, e.watcher.Close())
	}
	errs = append(errs, e.jobSystem.Shutdown())
	// completions of jobs that finished meanwhile, e.g. pending asset reloads
	e.jobSystem.Update()
	errs = append(errs, e.systemManager.Shutdown(e.config.Streamer.FlushOnShutdown))
	errs = append(errs, e.backend.Shutdown())
	errs = append(errs, e.events.Shutdown())

	fps, frameTime := e.metrics.Frame()
	core.LogInfo("engine shut down after %d frames (%.1f fps, %.3f ms per frame)", e.frames, fps, frameTime)
	return errors.Join(errs...)
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) Events() *core.EventSystem {
	return e.events
}

func (e *Engine) SystemManager() *systems.SystemManager {
	return e.systemManager
}

func (e *Engine) AssetPackage() *assets.AssetPackage {
	return e.assetPackage
}

func (e *Engine) FileManager() *assets.DiskFileManager {
	return e.fileManager
}

func (e *Engine) JobSystem() *systems.JobSystem {
	return e.jobSystem
}

func (e *Engine) Backend() renderer.Backend {
	return e.backend
}

func (e *Engine) Metrics() *core.FrameMetrics {
	return e.metrics
}

func (e *Engine) onEvent(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
	switch code {
	case core.EventCodeApplicationQuit:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning.Store(false)
		return true
	}
	return false
}

// onAssetChanged runs on the watcher goroutine, the reload is handed to the frame loop.
func (e *Engine) onAssetChanged(asset *assets.Asset, kind assets.AssetChangeKind) {
	err := e.jobSystem.Submit(systems.JobTask{
		Name: fmt.Sprintf("asset %s %s", asset.VirtualFilename, kind),
		OnComplete: func() {
			e.systemManager.ResourceSystem().OnAssetChanged(asset, kind)
			e.events.Fire(core.EventCodeAssetChanged, e, core.EventContext{
				U32:  [4]uint32{uint32(asset.ID), uint32(kind)},
				Name: asset.VirtualFilename,
			})
		},
	})
	if err != nil {
		core.LogDebug("asset change of '%s' dropped: %s", asset.VirtualFilename, err)
	}
}
