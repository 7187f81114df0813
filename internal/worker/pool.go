package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/olyamironova/order-execution-engine/internal/domain"
	"github.com/olyamironova/order-execution-engine/internal/metrics"
	"github.com/olyamironova/order-execution-engine/internal/port"
	"go.uber.org/zap"
)

const (
	DefaultConcurrency  = 10
	DefaultErrorBackoff = time.Second
)

// Handler runs one attempt of a job and is told when a job has no attempts left.
type Handler interface {
	Process(ctx context.Context, job *domain.Job) error
	OnExhausted(ctx context.Context, job *domain.Job, err error) error
}

type Options struct {
	Concurrency int
	// ErrorBackoff is the pause after the queue or the exhaustion handler fails.
	ErrorBackoff time.Duration
}

// Pool runs a fixed number of workers against one queue. Attempt counting,
// backoff and exhaustion are decided here so every queue backend behaves the same.
type Pool struct {
	queue   port.JobQueue
	handler Handler
	opts    Options
	log     *zap.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewPool(queue port.JobQueue, handler Handler, opts Options, log *zap.Logger) *Pool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = DefaultErrorBackoff
	}
	return &Pool{
		queue:   queue,
		handler: handler,
		opts:    opts,
		log:     log.Named("worker").With(zap.String("queue", queue.Name())),
	}
}

// Start launches the workers. Jobs run under ctx; Stop only stops reserving new ones.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	rctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.opts.Concurrency; i++ {
		p.wg.Add(1)
		go p.run(ctx, rctx, i)
	}
	p.log.Info("worker pool started", zap.Int("concurrency", p.opts.Concurrency))
}

// Stop waits for in-flight jobs to finish their current attempt.
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.log.Info("worker pool stopped")
}

func (p *Pool) run(ctx, rctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.With(zap.Int("worker", id))
	for {
		job, err := p.queue.Reserve(rctx)
		if err != nil {
			if rctx.Err() != nil || errors.Is(err, domain.ErrQueueClosed) {
				return
			}
			log.Error("reserve failed", zap.Error(err))
			select {
			case <-rctx.Done():
				return
			case <-time.After(p.opts.ErrorBackoff):
			}
			continue
		}
		p.handle(ctx, rctx, job, log)
	}
}

// handle runs one attempt and records its outcome. When the outcome cannot be
// recorded before the pool stops, the job stays reserved so stalled-job
// recovery hands it out again.
func (p *Pool) handle(ctx, rctx context.Context, job *domain.Job, log *zap.Logger) {
	queue := p.queue.Name()
	metrics.ActiveWorkers.WithLabelValues(queue).Inc()
	defer metrics.ActiveWorkers.WithLabelValues(queue).Dec()

	job.AttemptsMade++
	log = log.With(
		zap.String("job_id", job.ID),
		zap.String("order_id", job.Payload.OrderID),
		zap.Int("attempt", job.AttemptsMade),
		zap.Int("max_attempts", job.MaxAttempts))

	start := time.Now()
	err := p.process(ctx, job)
	metrics.JobDuration.WithLabelValues(queue).Observe(time.Since(start).Seconds())

	if err == nil {
		metrics.JobsProcessed.WithLabelValues(queue, "completed").Inc()
		job.LastError = ""
		if cerr := p.settle(ctx, rctx, log, "complete", func(ctx context.Context) error {
			return p.queue.Complete(ctx, job)
		}); cerr != nil {
			log.Error("job left reserved", zap.Error(cerr))
		}
		return
	}

	metrics.JobsProcessed.WithLabelValues(queue, "failed").Inc()
	job.LastError = err.Error()

	if !job.Exhausted() {
		delay := job.Backoff.Delay(job.AttemptsMade)
		metrics.JobRetries.WithLabelValues(queue).Inc()
		log.Warn("attempt failed, retrying", zap.Duration("delay", delay), zap.Error(err))
		rerr := p.settle(ctx, rctx, log, "retry", func(ctx context.Context) error {
			return p.queue.Retry(ctx, job, delay)
		})
		if rerr == nil {
			return
		}
		if !errors.Is(rerr, domain.ErrQueueClosed) {
			log.Error("job left reserved", zap.Error(rerr))
			return
		}
		// a closed queue will never redeliver, so the order is failed now
		log.Error("queue closed before retry", zap.Error(rerr))
	}

	metrics.JobsExhausted.WithLabelValues(queue).Inc()
	log.Error("attempts exhausted", zap.Error(err))
	cause := &domain.ExhaustedError{Attempts: job.AttemptsMade, Err: err}
	if herr := p.settle(ctx, rctx, log, "exhaustion handler", func(ctx context.Context) error {
		return p.handler.OnExhausted(ctx, job, cause)
	}); herr != nil {
		log.Error("order not marked failed, job left reserved", zap.Error(herr))
		return
	}
	if ferr := p.settle(ctx, rctx, log, "move to failed set", func(ctx context.Context) error {
		return p.queue.Fail(ctx, job)
	}); ferr != nil {
		log.Error("job left reserved", zap.Error(ferr))
	}
}

// settle repeats op every ErrorBackoff until it succeeds, ctx ends or the pool
// is stopping. A closed queue or a missing job record is returned at once.
func (p *Pool) settle(ctx, rctx context.Context, log *zap.Logger, what string, op func(context.Context) error) error {
	for {
		err := op(ctx)
		if err == nil || errors.Is(err, domain.ErrQueueClosed) || errors.Is(err, domain.ErrJobNotFound) {
			return err
		}
		log.Error(what+" failed", zap.Error(err))
		select {
		case <-ctx.Done():
			return err
		case <-rctx.Done():
			return err
		case <-time.After(p.opts.ErrorBackoff):
		}
	}
}

func (p *Pool) process(ctx context.Context, job *domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.handler.Process(ctx, job)
}
