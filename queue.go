package jscore

import "sync"

// Job is a unit of deferred work run under the group lock.
type Job func()

// jobQueue collects jobs scheduled from outside the group lock, such as
// collector cleanups, and runs them once the lock is held.
type jobQueue struct {
	mu      sync.Mutex
	jobs    []Job
	running bool
}

func newJobQueue() *jobQueue {
	return &jobQueue{}
}

// schedule adds a job. It never blocks on the group lock.
func (q *jobQueue) schedule(j Job) {
	q.mu.Lock()
	q.jobs = append(q.jobs, j)
	q.mu.Unlock()
}

// pending reports the number of queued jobs.
func (q *jobQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// run executes queued jobs until the queue is empty and returns how many ran.
// Jobs scheduled by a running job are picked up in the same call. A nested
// call while a drain is in progress returns 0.
func (q *jobQueue) run() (n int) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return 0
	}
	q.running = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
	}()

	for {
		q.mu.Lock()
		batch := q.jobs
		q.jobs = nil
		q.mu.Unlock()
		if len(batch) == 0 {
			return n
		}
		for _, job := range batch {
			job()
			n++
		}
	}
}
