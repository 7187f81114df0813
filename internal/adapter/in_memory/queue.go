package in_memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/order-execution-engine/internal/domain"
	"github.com/olyamironova/order-execution-engine/internal/port"
)

var _ port.JobQueue = (*Queue)(nil)

type Queue struct {
	name string

	mu        sync.Mutex
	jobs      map[string]*domain.Job
	ready     []string
	failed    []string
	completed []string
	timers    map[string]*time.Timer
	closed    bool

	notify chan struct{}
	done   chan struct{}
}

func NewQueue(name string) *Queue {
	return &Queue{
		name:   name,
		jobs:   make(map[string]*domain.Job),
		timers: make(map[string]*time.Timer),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) Enqueue(ctx context.Context, jobType string, payload domain.Order, opts domain.JobOptions) (*domain.Job, error) {
	job := domain.NewJob(uuid.NewString(), q.name, jobType, payload, opts)
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, domain.ErrQueueClosed
	}
	cp := *job
	q.jobs[job.ID] = &cp
	q.pushLocked(job.ID)
	return job, nil
}

func (q *Queue) Reserve(ctx context.Context) (*domain.Job, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, domain.ErrQueueClosed
		}
		if len(q.ready) > 0 {
			id := q.ready[0]
			q.ready = q.ready[1:]
			if len(q.ready) > 0 {
				q.signal()
			}
			cp := *q.jobs[id]
			q.mu.Unlock()
			return &cp, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			return nil, domain.ErrQueueClosed
		case <-q.notify:
		}
	}
}

func (q *Queue) Complete(ctx context.Context, job *domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.jobs[job.ID]; !ok {
		return domain.ErrJobNotFound
	}
	cp := *job
	q.jobs[job.ID] = &cp
	q.completed = append(q.completed, job.ID)
	return nil
}

func (q *Queue) Retry(ctx context.Context, job *domain.Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return domain.ErrQueueClosed
	}
	if _, ok := q.jobs[job.ID]; !ok {
		return domain.ErrJobNotFound
	}
	cp := *job
	cp.ProcessAt = time.Now().UTC().Add(delay)
	q.jobs[job.ID] = &cp
	if delay <= 0 {
		q.pushLocked(job.ID)
		return nil
	}
	id := job.ID
	q.timers[id] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, id)
		if !q.closed {
			q.pushLocked(id)
		}
	})
	return nil
}

func (q *Queue) Fail(ctx context.Context, job *domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.jobs[job.ID]; !ok {
		return domain.ErrJobNotFound
	}
	cp := *job
	q.jobs[job.ID] = &cp
	q.failed = append(q.failed, job.ID)
	return nil
}

func (q *Queue) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (q *Queue) HealthCheck(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return domain.ErrQueueClosed
	}
	return nil
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	close(q.done)
	return nil
}

// Failed returns the ids of permanently failed jobs.
func (q *Queue) Failed() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.failed...)
}

// Completed returns the ids of successfully processed jobs.
func (q *Queue) Completed() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.completed...)
}

func (q *Queue) pushLocked(id string) {
	q.ready = append(q.ready, id)
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
