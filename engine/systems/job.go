package systems

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-rhi/engine/containers"
	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// The max number of job results that can be stored at once.
const MAX_JOB_RESULTS int = 512

// JobTask is one unit of work. Run executes on a worker goroutine and must
// not touch the device; OnComplete and OnFailure run on the goroutine that
// calls Update, which is where GPU uploads belong.
type JobTask struct {
	Name       string
	Run        func() (interface{}, error)
	OnComplete func(result interface{})
	OnFailure  func(err error)
}

type jobResult struct {
	task   JobTask
	result interface{}
	err    error
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan JobTask
	wg         sync.WaitGroup

	// sendMu keeps senders off jobQueue once it is closed.
	sendMu      sync.RWMutex
	queueClosed bool

	// Finished jobs wait here until Update dispatches them.
	mu       sync.Mutex
	drained  *sync.Cond
	results  *containers.RingQueue[jobResult]
	closed   bool
	inFlight int
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")
var ErrJobSystemClosed = fmt.Errorf("job system is shut down")

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
		results:    containers.NewRingQueue[jobResult](MAX_JOB_RESULTS),
	}
	js.drained = sync.NewCond(&js.mu)

	js.start()
	core.LogDebug("job system started with %d workers", numWorkers)

	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				result, err := job.Run()
				if err != nil {
					core.LogError("job %q failed: %s", job.Name, err)
				}
				js.store(jobResult{task: job, result: result, err: err})
			}
		}()
	}
}

// store parks a finished job until Update picks it up. A full result queue
// blocks the worker, which throttles producers that outrun the frame loop.
func (js *JobSystem) store(r jobResult) {
	js.mu.Lock()
	defer js.mu.Unlock()
	for !js.closed {
		if err := js.results.Enqueue(r); err == nil {
			return
		}
		js.drained.Wait()
	}
	// Shut down: results are dropped, nothing will dispatch them.
	js.inFlight--
}

// Shutdown stops accepting work, lets the workers finish what is queued
// and drops results that were never dispatched.
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	if js.closed {
		js.mu.Unlock()
		return nil
	}
	js.closed = true
	// Wake workers parked on a full result queue so they keep draining.
	js.drained.Broadcast()
	js.mu.Unlock()

	js.sendMu.Lock()
	js.queueClosed = true
	close(js.jobQueue)
	js.sendMu.Unlock()

	js.wg.Wait()
	core.LogDebug("job system shut down")
	return nil
}

// Update dispatches the callbacks of every finished job on the calling
// goroutine. Should happen once an update cycle.
func (js *JobSystem) Update() {
	for {
		js.mu.Lock()
		r, err := js.results.Dequeue()
		if err == nil {
			js.inFlight--
			js.drained.Signal()
		}
		js.mu.Unlock()
		if err != nil {
			return
		}

		if r.err != nil {
			if r.task.OnFailure != nil {
				r.task.OnFailure(r.err)
			}
			continue
		}
		if r.task.OnComplete != nil {
			r.task.OnComplete(r.result)
		}
	}
}

// Pending is the number of submitted jobs whose callbacks have not run yet.
func (js *JobSystem) Pending() int {
	js.mu.Lock()
	defer js.mu.Unlock()
	return js.inFlight
}

// AddWorkNonBlocking queues the job without waiting for room in the queue.
func (js *JobSystem) AddWorkNonBlocking(jt JobTask) error {
	if err := js.reserve(jt); err != nil {
		return err
	}
	go js.send(jt)
	return nil
}

// Submit queues the job, blocking while the job queue is full.
func (js *JobSystem) Submit(jt JobTask) error {
	if err := js.reserve(jt); err != nil {
		return err
	}
	return js.send(jt)
}

func (js *JobSystem) reserve(jt JobTask) error {
	if jt.Run == nil {
		return fmt.Errorf("job %q has no Run function", jt.Name)
	}
	js.mu.Lock()
	defer js.mu.Unlock()
	if js.closed {
		return ErrJobSystemClosed
	}
	js.inFlight++
	return nil
}

func (js *JobSystem) send(jt JobTask) error {
	js.sendMu.RLock()
	defer js.sendMu.RUnlock()
	if js.queueClosed {
		js.mu.Lock()
		js.inFlight--
		js.mu.Unlock()
		return ErrJobSystemClosed
	}
	js.jobQueue <- jt
	return nil
}
