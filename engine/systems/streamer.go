package systems

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spaghettifunk/anima-rhi/engine/assets"
	"github.com/spaghettifunk/anima-rhi/engine/containers"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/resources"
)

/** @brief The configuration for the resource streamer */
type ResourceStreamerConfig struct {
	/** @brief The maximum number of loader instances alive per resource loader type. */
	MaxLoaderInstancesPerType uint32
	/** @brief How long FlushAllQueues sleeps between two dispatch calls. */
	FlushPollInterval time.Duration
	/** @brief Receives EventCodeResourceLoaded and EventCodeResourceFailed. Can be nil. */
	Events *core.EventSystem
}

func DefaultResourceStreamerConfig() ResourceStreamerConfig {
	return ResourceStreamerConfig{
		MaxLoaderInstancesPerType: 5,
		FlushPollInterval:         time.Millisecond,
	}
}

// resourceLoaderType is the pool bookkeeping of one resource loader type.
type resourceLoaderType struct {
	numberOfInstances   uint32
	freeResourceLoaders []resources.ResourceLoader
	waitingLoadRequests *containers.Queue[resources.LoadRequest]
}

type ResourceStreamerStats struct {
	Committed          uint64
	Finalized          uint64
	Failed             uint64
	InFlight           uint32
	Waiting            uint32
	FullyLoadedWaiting uint32
	Instances          map[resources.ResourceLoaderTypeID]uint32
	DispatchMS         float64
}

/**
 * @brief ResourceStreamer moves load requests through three stages: deserialization and
 * processing run on one background goroutine each, dispatch runs on the goroutine
 * owning the renderer backend whenever it calls Dispatch. The number of loader
 * instances per resource loader type is capped; requests that find no free
 * instance wait in a per-type FIFO until one is released.
 */
type ResourceStreamer struct {
	config      ResourceStreamerConfig
	fileManager assets.FileManager

	deserializationMutex    sync.Mutex
	deserializationCond     *sync.Cond
	deserializationQueue    *containers.Queue[resources.LoadRequest]
	shutdownDeserialization atomic.Bool

	processingMutex    sync.Mutex
	processingCond     *sync.Cond
	processingQueue    *containers.Queue[resources.LoadRequest]
	shutdownProcessing atomic.Bool

	dispatchMutex sync.Mutex
	dispatchQueue *containers.Queue[resources.LoadRequest]
	// only touched by the dispatch goroutine
	fullyLoadedWaiting      []resources.LoadRequest
	numberOfFullyLoadedWait atomic.Uint32

	resourceManagerMutex sync.Mutex
	resourceLoaderTypes  map[resources.ResourceLoaderTypeID]*resourceLoaderType

	numberOfInFlightLoadRequests atomic.Uint32
	numberOfWaitingLoadRequests  atomic.Uint32
	numberOfCommitted            atomic.Uint64
	numberOfFinalized            atomic.Uint64
	numberOfFailed               atomic.Uint64
	dispatchMetrics              *core.FrameMetrics

	shutdown atomic.Bool
	wg       sync.WaitGroup
}

func NewResourceStreamer(config ResourceStreamerConfig, fileManager assets.FileManager) (*ResourceStreamer, error) {
	if config.MaxLoaderInstancesPerType == 0 {
		err := fmt.Errorf("failed to create resource streamer because config.MaxLoaderInstancesPerType==0")
		core.LogError(err.Error())
		return nil, err
	}
	if config.FlushPollInterval <= 0 {
		config.FlushPollInterval = DefaultResourceStreamerConfig().FlushPollInterval
	}
	if fileManager == nil {
		err := fmt.Errorf("failed to create resource streamer without a file manager")
		core.LogError(err.Error())
		return nil, err
	}

	rs := &ResourceStreamer{
		config:               config,
		fileManager:          fileManager,
		deserializationQueue: containers.NewQueue[resources.LoadRequest](64),
		processingQueue:      containers.NewQueue[resources.LoadRequest](64),
		dispatchQueue:        containers.NewQueue[resources.LoadRequest](64),
		resourceLoaderTypes:  make(map[resources.ResourceLoaderTypeID]*resourceLoaderType),
		dispatchMetrics:      core.NewFrameMetrics(),
	}
	rs.deserializationCond = sync.NewCond(&rs.deserializationMutex)
	rs.processingCond = sync.NewCond(&rs.processingMutex)

	rs.wg.Add(2)
	go rs.deserializationThread()
	go rs.processingThread()

	core.LogInfo("Resource streamer started with %d loader instances per type.", config.MaxLoaderInstancesPerType)
	return rs, nil
}

// CommitLoadRequest queues req for loading and returns immediately. The outcome
// is observable through the loading state of the target resource. An error is
// returned only for requests that cannot enter the pipeline at all.
func (rs *ResourceStreamer) CommitLoadRequest(req resources.LoadRequest) error {
	if rs.shutdown.Load() {
		return core.ErrStreamerShutdown
	}
	if req.Asset == nil {
		return fmt.Errorf("commit load request without asset: %w", core.ErrUnknownAsset)
	}
	if req.ResourceManager == nil {
		return fmt.Errorf("commit load request for '%s' without resource manager: %w", req.Asset.VirtualFilename, core.ErrUnknownResource)
	}
	resource, err := req.ResourceManager.GetResourceByResourceID(req.ResourceID)
	if err != nil {
		return fmt.Errorf("commit load request for '%s': %w", req.Asset.VirtualFilename, err)
	}

	if req.TraceID == uuid.Nil {
		req.TraceID = uuid.New()
	}
	req.Resource = resource
	req.ResourceLoader = nil
	req.LoadingFailed = false
	req.Err = nil

	rs.numberOfInFlightLoadRequests.Add(1)
	rs.numberOfCommitted.Add(1)
	resource.SetLoadingState(resources.LoadingStateLoading)

	rs.pushDeserialization(req)
	core.LogDebug("%s committed", req.String())
	return nil
}

// Dispatch must be called once per frame by the goroutine owning the renderer backend.
// It never blocks on the worker goroutines.
func (rs *ResourceStreamer) Dispatch() {
	rs.dispatchMutex.Lock()
	if rs.dispatchQueue.IsEmpty() && len(rs.fullyLoadedWaiting) == 0 {
		rs.dispatchMutex.Unlock()
		return
	}
	start := time.Now()
	batch := make([]resources.LoadRequest, 0, rs.dispatchQueue.Len())
	for !rs.dispatchQueue.IsEmpty() {
		req, _ := rs.dispatchQueue.Dequeue()
		batch = append(batch, req)
	}
	rs.dispatchMutex.Unlock()

	for _, req := range batch {
		if req.LoadingFailed {
			rs.finalizeLoadRequest(req)
			continue
		}
		finished, err := req.ResourceLoader.OnDispatch()
		if err != nil {
			req.Fail(fmt.Errorf("dispatch: %w", err))
			rs.finalizeLoadRequest(req)
			continue
		}
		if finished {
			rs.finalizeLoadRequest(req)
		} else {
			rs.fullyLoadedWaiting = append(rs.fullyLoadedWaiting, req)
		}
	}

	// keep the entries that still need frames, in order
	waiting := rs.fullyLoadedWaiting[:0]
	for _, req := range rs.fullyLoadedWaiting {
		if req.ResourceLoader.IsFullyLoaded() {
			rs.finalizeLoadRequest(req)
		} else {
			waiting = append(waiting, req)
		}
	}
	for i := len(waiting); i < len(rs.fullyLoadedWaiting); i++ {
		rs.fullyLoadedWaiting[i] = resources.LoadRequest{}
	}
	rs.fullyLoadedWaiting = waiting
	rs.numberOfFullyLoadedWait.Store(uint32(len(waiting)))

	rs.dispatchMetrics.Update(time.Since(start))
}

// FlushAllQueues dispatches until every committed request is finalized. Like Dispatch
// it must be called from the goroutine owning the renderer backend.
func (rs *ResourceStreamer) FlushAllQueues() {
	if rs.shutdown.Load() {
		if n := rs.numberOfInFlightLoadRequests.Load(); n > 0 {
			core.LogWarn("Resource streamer is shut down, %d in-flight load requests are dropped.", n)
		}
		return
	}
	for rs.numberOfInFlightLoadRequests.Load() > 0 {
		rs.Dispatch()
		if rs.numberOfInFlightLoadRequests.Load() == 0 {
			break
		}
		time.Sleep(rs.config.FlushPollInterval)
	}
	if rs.deserializationQueueLen() != 0 || rs.processingQueueLen() != 0 || rs.dispatchQueueLen() != 0 ||
		rs.numberOfWaitingLoadRequests.Load() != 0 || len(rs.fullyLoadedWaiting) != 0 {
		panic("resource streamer: queues not empty after flush with no in-flight load requests")
	}
}

func (rs *ResourceStreamer) NumberOfInFlightLoadRequests() uint32 {
	return rs.numberOfInFlightLoadRequests.Load()
}

func (rs *ResourceStreamer) Stats() ResourceStreamerStats {
	stats := ResourceStreamerStats{
		Committed:          rs.numberOfCommitted.Load(),
		Finalized:          rs.numberOfFinalized.Load(),
		Failed:             rs.numberOfFailed.Load(),
		InFlight:           rs.numberOfInFlightLoadRequests.Load(),
		Waiting:            rs.numberOfWaitingLoadRequests.Load(),
		FullyLoadedWaiting: rs.numberOfFullyLoadedWait.Load(),
		DispatchMS:         rs.dispatchMetrics.FrameTime(),
	}

	rs.resourceManagerMutex.Lock()
	defer rs.resourceManagerMutex.Unlock()
	stats.Instances = make(map[resources.ResourceLoaderTypeID]uint32, len(rs.resourceLoaderTypes))
	for id, t := range rs.resourceLoaderTypes {
		stats.Instances[id] = t.numberOfInstances
	}
	return stats
}

/**
 * @brief Stops both worker goroutines and waits for them. Requests still queued
 * are dropped. Safe to call more than once.
 */
func (rs *ResourceStreamer) Shutdown() error {
	if !rs.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	rs.deserializationMutex.Lock()
	rs.shutdownDeserialization.Store(true)
	rs.deserializationMutex.Unlock()
	rs.deserializationCond.Broadcast()

	rs.processingMutex.Lock()
	rs.shutdownProcessing.Store(true)
	rs.processingMutex.Unlock()
	rs.processingCond.Broadcast()

	rs.wg.Wait()

	if n := rs.numberOfInFlightLoadRequests.Load(); n > 0 {
		core.LogWarn("Resource streamer shut down with %d in-flight load requests.", n)
	}
	core.LogInfo("Resource streamer shut down.")
	return nil
}

func (rs *ResourceStreamer) deserializationThread() {
	defer rs.wg.Done()

	rs.deserializationMutex.Lock()
	for {
		for rs.deserializationQueue.IsEmpty() && !rs.shutdownDeserialization.Load() {
			rs.deserializationCond.Wait()
		}
		if rs.shutdownDeserialization.Load() {
			rs.deserializationMutex.Unlock()
			return
		}
		req, _ := rs.deserializationQueue.Dequeue()
		rs.deserializationMutex.Unlock()

		// waiters released by a finalize come back with their loader already bound
		if req.ResourceLoader != nil || req.LoadingFailed || rs.acquireResourceLoader(&req) {
			rs.deserialize(&req)
			if req.LoadingFailed {
				rs.pushDispatch(req)
			} else {
				rs.pushProcessing(req)
			}
		}

		rs.deserializationMutex.Lock()
	}
}

// acquireResourceLoader binds a loader instance to req. It returns false when the
// request was parked in the waiting list of its type.
func (rs *ResourceStreamer) acquireResourceLoader(req *resources.LoadRequest) bool {
	rs.resourceManagerMutex.Lock()
	defer rs.resourceManagerMutex.Unlock()

	loaderType, ok := rs.resourceLoaderTypes[req.ResourceLoaderTypeID]
	if !ok {
		loaderType = &resourceLoaderType{
			waitingLoadRequests: containers.NewQueue[resources.LoadRequest](8),
		}
		rs.resourceLoaderTypes[req.ResourceLoaderTypeID] = loaderType
	}

	if n := len(loaderType.freeResourceLoaders); n > 0 {
		req.ResourceLoader = loaderType.freeResourceLoaders[n-1]
		loaderType.freeResourceLoaders[n-1] = nil
		loaderType.freeResourceLoaders = loaderType.freeResourceLoaders[:n-1]
		return true
	}

	if loaderType.numberOfInstances < rs.config.MaxLoaderInstancesPerType {
		loader, err := req.ResourceManager.CreateResourceLoaderInstance(req.ResourceLoaderTypeID)
		if err != nil {
			req.Fail(fmt.Errorf("create resource loader instance: %w", err))
			return true
		}
		if loader == nil {
			req.Fail(fmt.Errorf("create resource loader instance %#08x: %w", uint32(req.ResourceLoaderTypeID), core.ErrUnknownResourceLoaderType))
			return true
		}
		loaderType.numberOfInstances++
		req.ResourceLoader = loader
		return true
	}

	loaderType.waitingLoadRequests.Enqueue(*req)
	rs.numberOfWaitingLoadRequests.Add(1)
	core.LogDebug("%s waits for a loader instance", req.String())
	return false
}

func (rs *ResourceStreamer) deserialize(req *resources.LoadRequest) {
	if req.LoadingFailed {
		return
	}
	loader := req.ResourceLoader
	loader.Initialize(req.Asset, req.Reload, req.Resource)
	if !loader.HasDeserialization() {
		return
	}

	file, err := rs.fileManager.OpenFile(assets.FileModeRead, req.Asset.VirtualFilename)
	if err != nil {
		if !errors.Is(err, core.ErrAssetUnavailable) {
			err = fmt.Errorf("%w: %w", core.ErrAssetUnavailable, err)
		}
		req.Fail(err)
		return
	}
	err = loader.OnDeserialization(file)
	if closeErr := rs.fileManager.CloseFile(file); closeErr != nil {
		core.LogWarn("%s: failed to close file: %s", req.String(), closeErr.Error())
	}
	if err != nil {
		req.Fail(fmt.Errorf("deserialization: %w", err))
	}
}

func (rs *ResourceStreamer) processingThread() {
	defer rs.wg.Done()

	rs.processingMutex.Lock()
	for {
		for rs.processingQueue.IsEmpty() && !rs.shutdownProcessing.Load() {
			rs.processingCond.Wait()
		}
		if rs.shutdownProcessing.Load() {
			rs.processingMutex.Unlock()
			return
		}
		req, _ := rs.processingQueue.Dequeue()
		rs.processingMutex.Unlock()

		if err := req.ResourceLoader.OnProcessing(); err != nil {
			req.Fail(fmt.Errorf("processing: %w", err))
		}
		rs.pushDispatch(req)

		rs.processingMutex.Lock()
	}
}

// finalizeLoadRequest runs on the dispatch goroutine only.
func (rs *ResourceStreamer) finalizeLoadRequest(req resources.LoadRequest) {
	if loader := req.ResourceLoader; loader != nil {
		rs.resourceManagerMutex.Lock()
		loaderType, ok := rs.resourceLoaderTypes[req.ResourceLoaderTypeID]
		if !ok {
			rs.resourceManagerMutex.Unlock()
			panic(fmt.Errorf("finalize %s: loader type %#08x: %w", req.String(), uint32(req.ResourceLoaderTypeID), core.ErrUnknownResourceLoaderType))
		}
		waiting, err := loaderType.waitingLoadRequests.Dequeue()
		if err == nil {
			// hand the instance straight to the oldest waiter so nobody can overtake it
			waiting.ResourceLoader = loader
			rs.numberOfWaitingLoadRequests.Add(^uint32(0))
		} else {
			loaderType.freeResourceLoaders = append(loaderType.freeResourceLoaders, loader)
		}
		rs.resourceManagerMutex.Unlock()

		if err == nil {
			rs.pushDeserialization(waiting)
		}
	}

	state := resources.LoadingStateLoaded
	code := core.EventCodeResourceLoaded
	if req.LoadingFailed {
		state = resources.LoadingStateFailed
		code = core.EventCodeResourceFailed
		rs.numberOfFailed.Add(1)
		core.LogError("%s failed: %s", req.String(), req.Err)
	} else {
		core.LogDebug("%s loaded", req.String())
	}
	req.Resource.SetLoadingState(state)
	if observer, ok := req.ResourceManager.(resources.FinalizeObserver); ok {
		// may commit a follow-up request, which keeps FlushAllQueues waiting for it
		observer.OnLoadRequestFinalized(req.ResourceID, state)
	}
	rs.numberOfFinalized.Add(1)
	rs.numberOfInFlightLoadRequests.Add(^uint32(0))

	if rs.config.Events != nil {
		rs.config.Events.Fire(code, rs, core.EventContext{
			U32:  [4]uint32{uint32(req.ResourceID), uint32(req.Asset.ID), uint32(req.ResourceLoaderTypeID)},
			Name: req.Asset.VirtualFilename,
		})
	}
}

func (rs *ResourceStreamer) pushDeserialization(req resources.LoadRequest) {
	rs.deserializationMutex.Lock()
	rs.deserializationQueue.Enqueue(req)
	rs.deserializationMutex.Unlock()
	rs.deserializationCond.Signal()
}

func (rs *ResourceStreamer) pushProcessing(req resources.LoadRequest) {
	rs.processingMutex.Lock()
	rs.processingQueue.Enqueue(req)
	rs.processingMutex.Unlock()
	rs.processingCond.Signal()
}

func (rs *ResourceStreamer) pushDispatch(req resources.LoadRequest) {
	rs.dispatchMutex.Lock()
	rs.dispatchQueue.Enqueue(req)
	rs.dispatchMutex.Unlock()
}

func (rs *ResourceStreamer) deserializationQueueLen() int {
	rs.deserializationMutex.Lock()
	defer rs.deserializationMutex.Unlock()
	return rs.deserializationQueue.Len()
}

func (rs *ResourceStreamer) processingQueueLen() int {
	rs.processingMutex.Lock()
	defer rs.processingMutex.Unlock()
	return rs.processingQueue.Len()
}

func (rs *ResourceStreamer) dispatchQueueLen() int {
	rs.dispatchMutex.Lock()
	defer rs.dispatchMutex.Unlock()
	return rs.dispatchQueue.Len()
}
