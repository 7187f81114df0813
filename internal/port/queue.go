package port

import (
	"context"
	"time"

	"github.com/olyamironova/order-execution-engine/internal/domain"
)

// JobQueue is a durable at-least-once queue. Attempt accounting and backoff are
// decided by the consumer; the queue only stores and redelivers.
type JobQueue interface {
	Enqueue(ctx context.Context, jobType string, payload domain.Order, opts domain.JobOptions) (*domain.Job, error)
	// Reserve blocks until a job is ready, ctx is done or the queue is closed.
	Reserve(ctx context.Context) (*domain.Job, error)
	Complete(ctx context.Context, job *domain.Job) error
	// Retry stores the job's attempt count and last error and makes it ready again after delay.
	Retry(ctx context.Context, job *domain.Job, delay time.Duration) error
	// Fail moves the job to the failed set for good.
	Fail(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	Name() string
	HealthCheck(ctx context.Context) error
	Close() error
}
