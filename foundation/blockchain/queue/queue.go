// Package queue provides an ordered, single consumer job queue. Jobs are
// executed one at a time in the order they were pushed.
package queue

import (
	"context"
	"fmt"
	"sync"
)

// Job represents a unit of work executed by the queue.
type Job interface {
	Handle(ctx context.Context) error
}

// Dropper is implemented by jobs whose owner waits on them. Drop is called
// when the job is discarded without being executed.
type Dropper interface {
	Drop()
}

// EventHandler defines a function that is called when events
// occur in the processing of the queue.
type EventHandler func(v string, args ...any)

// Queue executes pushed jobs in order on a single goroutine.
type Queue struct {
	mu      sync.Mutex
	jobs    []Job
	paused  bool
	active  bool
	running bool

	onDrain    func()
	onJobError func(err error)
	evHandler  EventHandler

	wg       sync.WaitGroup
	wake     chan struct{}
	shut     chan struct{}
	shutOnce sync.Once
}

// New constructs a queue that is ready to accept jobs. Jobs are not executed
// until Start is called.
func New(evHandler EventHandler) *Queue {
	if evHandler == nil {
		evHandler = func(v string, args ...any) {}
	}

	return &Queue{
		evHandler: evHandler,
		wake:      make(chan struct{}, 1),
		shut:      make(chan struct{}),
	}
}

// OnDrain registers the function called every time the queue runs out of
// jobs after executing one.
func (q *Queue) OnDrain(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.onDrain = fn
}

// OnJobError registers the function called when a job returns an error or
// panics.
func (q *Queue) OnJobError(fn func(err error)) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.onJobError = fn
}

// Start launches the consumer goroutine. It does not return until the
// goroutine is up and running.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	q.wg.Add(1)

	hasStarted := make(chan bool)

	go func() {
		defer q.wg.Done()
		hasStarted <- true
		q.consumer(ctx)
	}()

	<-hasStarted

	q.signal()
}

// Stop terminates the consumer goroutine. A job that is executing is allowed
// to finish, jobs that are still pending are not executed.
func (q *Queue) Stop() {
	q.evHandler("queue: stop: started")
	defer q.evHandler("queue: stop: completed")

	q.shutOnce.Do(func() {
		close(q.shut)
	})
	q.wg.Wait()

	q.mu.Lock()
	jobs := q.jobs
	q.jobs = nil
	q.mu.Unlock()

	drop(jobs)
}

// Push adds the job to the end of the queue.
func (q *Queue) Push(job Job) {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()

	q.signal()
}

// Pause stops the consumer from taking new jobs. A job that is executing
// is allowed to finish.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.paused = true
}

// Resume allows the consumer to continue taking jobs.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()

	q.signal()
}

// Clear drops every pending job. A job that is executing is not affected.
func (q *Queue) Clear() {
	q.mu.Lock()
	jobs := q.jobs
	q.jobs = nil
	q.mu.Unlock()

	if len(jobs) > 0 {
		q.evHandler("queue: clear: dropped[%d]", len(jobs))
	}
	drop(jobs)
}

// Len returns the number of pending jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.jobs)
}

// IsPaused reports if the queue is paused.
func (q *Queue) IsPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.paused
}

// IsRunning reports if the queue is not paused and is executing a job or
// has jobs waiting.
func (q *Queue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return !q.paused && (q.active || len(q.jobs) > 0)
}

// =============================================================================

// consumer waits for work to be signaled and executes pending jobs in order.
func (q *Queue) consumer(ctx context.Context) {
	q.evHandler("queue: consumer: G started")
	defer q.evHandler("queue: consumer: G completed")

	for {
		select {
		case <-q.wake:
			for !q.isShutdown() {
				job, ok := q.next()
				if !ok {
					break
				}

				err := q.execute(ctx, job)
				onDrain, onJobError := q.finish()

				if err != nil && onJobError != nil {
					onJobError(err)
				}
				if onDrain != nil {
					onDrain()
				}
			}

		case <-q.shut:
			q.evHandler("queue: consumer: received shut signal")
			return
		}
	}
}

// next removes the job at the front of the queue and marks the queue
// active. It reports false when paused or empty.
func (q *Queue) next() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused || len(q.jobs) == 0 {
		return nil, false
	}

	job := q.jobs[0]
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]
	q.active = true

	return job, true
}

// finish marks the queue inactive and returns the callbacks to invoke. The
// drain callback is only returned when nothing is left to execute.
func (q *Queue) finish() (onDrain func(), onJobError func(error)) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.active = false

	if len(q.jobs) == 0 {
		return q.onDrain, q.onJobError
	}

	return nil, q.onJobError
}

// execute runs the job, turning a panic into an error.
func (q *Queue) execute(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v", r)
		}
	}()

	return job.Handle(ctx)
}

// signal wakes the consumer. If a signal is already pending, just return
// since the consumer will look at the queue anyway.
func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// drop tells the jobs that need to know they will never be executed.
func drop(jobs []Job) {
	for _, job := range jobs {
		if d, ok := job.(Dropper); ok {
			d.Drop()
		}
	}
}

// isShutdown is used to test if a shutdown has been signaled.
func (q *Queue) isShutdown() bool {
	select {
	case <-q.shut:
		return true
	default:
		return false
	}
}
