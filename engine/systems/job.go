package systems

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")
var ErrJobSystemShutdown = errors.New("job system is shut down")

/**
 * @brief A unit of work for the job system. OnStart runs on a worker goroutine,
 * OnComplete and OnFailure run on the goroutine calling Update.
 */
type JobTask struct {
	Name string
	// OnStart can be nil for jobs that only need to run on the frame goroutine.
	OnStart    func() error
	OnComplete func()
	OnFailure  func(err error)
}

type jobResult struct {
	task JobTask
	err  error
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan JobTask
	wg         sync.WaitGroup

	// Submit holds the read lock while sending so Shutdown never closes a channel in use
	submitMutex sync.RWMutex
	closed      bool

	resultMutex sync.Mutex
	results     []jobResult
	pending     atomic.Int32
}

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan JobTask, channelSize),
	}
	js.start()
	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				var err error
				if job.OnStart != nil {
					err = job.OnStart()
				}
				if err != nil {
					core.LogError("job '%s' failed: %s", job.Name, err)
				}
				js.resultMutex.Lock()
				js.results = append(js.results, jobResult{task: job, err: err})
				js.resultMutex.Unlock()
			}
		}()
	}
}

/**
 * @brief Shuts the job system down. Queued jobs still run, their completions
 * are dropped unless Update is called afterwards.
 */
func (js *JobSystem) Shutdown() error {
	js.submitMutex.Lock()
	if js.closed {
		js.submitMutex.Unlock()
		return nil
	}
	js.closed = true
	close(js.jobQueue)
	js.submitMutex.Unlock()

	js.wg.Wait()
	return nil
}

/**
 * @brief Runs the completion callbacks of finished jobs. Should happen once an update cycle.
 * @returns The number of jobs completed in this call.
 */
func (js *JobSystem) Update() int {
	js.resultMutex.Lock()
	results := js.results
	js.results = nil
	js.resultMutex.Unlock()

	for _, r := range results {
		if r.err != nil {
			if r.task.OnFailure != nil {
				r.task.OnFailure(r.err)
			}
		} else if r.task.OnComplete != nil {
			r.task.OnComplete()
		}
		js.pending.Add(-1)
	}
	return len(results)
}

/**
 * @brief Submits the provided job to be queued for execution. Blocks while the queue is full.
 * @param jt The description of the job to be executed.
 */
func (js *JobSystem) Submit(jt JobTask) error {
	js.submitMutex.RLock()
	defer js.submitMutex.RUnlock()

	if js.closed {
		return ErrJobSystemShutdown
	}
	js.pending.Add(1)
	js.jobQueue <- jt
	return nil
}

// Pending is the number of submitted jobs whose completion has not run yet.
func (js *JobSystem) Pending() int32 {
	return js.pending.Load()
}
