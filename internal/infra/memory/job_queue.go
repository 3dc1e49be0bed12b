package memory

import (
	"context"
	"sync"
	"time"

	"live-quiz-service/internal/mirror"
)

const defaultRetention = 1000

// JobQueue is a process-local mirror.Queue. Retries are parked on timers; finished jobs are kept
// up to the retention bound, newest last.
type JobQueue struct {
	mu        sync.Mutex
	ready     []mirror.Job
	delayed   map[string]*time.Timer
	completed []mirror.Job
	failed    []mirror.Job
	retention int
	signal    chan struct{}
}

func NewJobQueue(retention int) *JobQueue {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &JobQueue{
		delayed:   make(map[string]*time.Timer),
		retention: retention,
		signal:    make(chan struct{}, 1),
	}
}

func (q *JobQueue) Enqueue(_ context.Context, job mirror.Job) error {
	q.push(job)
	return nil
}

func (q *JobQueue) Dequeue(ctx context.Context) (mirror.Job, error) {
	for {
		q.mu.Lock()
		if len(q.ready) > 0 {
			job := q.ready[0]
			q.ready[0] = mirror.Job{}
			q.ready = q.ready[1:]
			more := len(q.ready) > 0
			q.mu.Unlock()
			if more {
				q.notify()
			}
			return job, nil
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-ctx.Done():
			return mirror.Job{}, ctx.Err()
		}
	}
}

func (q *JobQueue) Retry(_ context.Context, job mirror.Job, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.delayed[job.ID] = time.AfterFunc(time.Until(at), func() {
		q.mu.Lock()
		delete(q.delayed, job.ID)
		q.mu.Unlock()
		q.push(job)
	})
	return nil
}

func (q *JobQueue) Complete(_ context.Context, job mirror.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = appendBounded(q.completed, job, q.retention)
	return nil
}

func (q *JobQueue) Fail(_ context.Context, job mirror.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed = appendBounded(q.failed, job, q.retention)
	return nil
}

// Completed returns the retained completed jobs.
func (q *JobQueue) Completed() []mirror.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]mirror.Job(nil), q.completed...)
}

// Failed returns the retained failed jobs.
func (q *JobQueue) Failed() []mirror.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]mirror.Job(nil), q.failed...)
}

// Pending counts jobs that are ready or waiting on a retry timer.
func (q *JobQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.delayed)
}

// Close stops outstanding retry timers. Their jobs are dropped.
func (q *JobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, t := range q.delayed {
		t.Stop()
		delete(q.delayed, id)
	}
}

func (q *JobQueue) push(job mirror.Job) {
	q.mu.Lock()
	q.ready = append(q.ready, job)
	q.mu.Unlock()
	q.notify()
}

func (q *JobQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func appendBounded(list []mirror.Job, job mirror.Job, limit int) []mirror.Job {
	list = append(list, job)
	if over := len(list) - limit; over > 0 {
		list = append(list[:0:0], list[over:]...)
	}
	return list
}
