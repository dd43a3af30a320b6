package process

import (
	"context"
	"sync"
	"time"

	"reddot-watch/rssfetcher/internal/config"
)

// Job is one unit of scheduled work: fetch FeedID using the Spec
// snapshot taken when the job was emitted.
type Job struct {
	FeedID string
	Spec   config.FeedSpec

	shutdown bool
}

// NewJob returns a fetch job for spec.
func NewJob(spec config.FeedSpec) Job {
	return Job{FeedID: spec.FeedID, Spec: spec}
}

// ShutdownJob returns the sentinel that stops the consumer.
func ShutdownJob() Job {
	return Job{shutdown: true}
}

// IsShutdown reports whether j is the shutdown sentinel.
func (j Job) IsShutdown() bool {
	return j.shutdown
}

// Queue is a bounded FIFO of jobs that tracks how many enqueued jobs
// have not been marked done yet.
type Queue struct {
	jobs chan Job

	mu         sync.Mutex
	unfinished int
	idle       chan struct{} // closed while unfinished == 0
}

// NewQueue returns a queue holding at most capacity pending jobs.
func NewQueue(capacity int) *Queue {
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		jobs: make(chan Job, capacity),
		idle: idle,
	}
}

// Put enqueues job, blocking while the queue is full or until ctx is
// done. A job that was not enqueued is not counted as unfinished.
func (q *Queue) Put(ctx context.Context, job Job) error {
	q.mu.Lock()
	if q.unfinished == 0 {
		q.idle = make(chan struct{})
	}
	q.unfinished++
	q.mu.Unlock()

	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		q.Done(1)
		return ctx.Err()
	}
}

// Get blocks until a job is available or ctx is done.
func (q *Queue) Get(ctx context.Context) (Job, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// TryGet waits at most timeout for a job.
func (q *Queue) TryGet(timeout time.Duration) (Job, bool) {
	if timeout <= 0 {
		return Job{}, false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case job := <-q.jobs:
		return job, true
	case <-timer.C:
		return Job{}, false
	}
}

// Done marks n dequeued jobs as processed. Marking more jobs than were
// enqueued is a programming error and panics.
func (q *Queue) Done(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > q.unfinished {
		panic("process: Queue.Done called more times than Put")
	}
	q.unfinished -= n
	if q.unfinished == 0 && n > 0 {
		close(q.idle)
	}
}

// Join blocks until every enqueued job has been marked done or ctx is done.
func (q *Queue) Join(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unfinished returns the number of jobs not marked done yet.
func (q *Queue) Unfinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unfinished
}
