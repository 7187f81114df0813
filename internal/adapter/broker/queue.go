package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/order-execution-engine/internal/domain"
	"github.com/olyamironova/order-execution-engine/internal/port"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ port.JobQueue = (*RedisQueue)(nil)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultFinishedTTL  = 24 * time.Hour
	promoteBatch        = 100
)

// promoteScript moves delayed jobs whose time has come onto the wait list.
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('LPUSH', KEYS[2], id)
end
return #ids
`)

type QueueOptions struct {
	PollInterval time.Duration
	// FinishedTTL bounds how long completed and failed job records are kept.
	FinishedTTL time.Duration
}

// RedisQueue keeps job records as JSON strings and moves job ids between a
// wait list, an active list, a delayed sorted set and a failed list.
type RedisQueue struct {
	client *redis.Client
	name   string
	opts   QueueOptions
	log    *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func NewRedisQueue(client *redis.Client, name string, opts QueueOptions, log *zap.Logger) *RedisQueue {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.FinishedTTL <= 0 {
		opts.FinishedTTL = DefaultFinishedTTL
	}
	return &RedisQueue{
		client: client,
		name:   name,
		opts:   opts,
		log:    log.Named("queue").With(zap.String("queue", name)),
		done:   make(chan struct{}),
	}
}

func (q *RedisQueue) Name() string { return q.name }

func (q *RedisQueue) key(suffix string) string { return "queue:" + q.name + ":" + suffix }
func (q *RedisQueue) jobKey(id string) string  { return q.key("job:" + id) }

func (q *RedisQueue) Enqueue(ctx context.Context, jobType string, payload domain.Order, opts domain.JobOptions) (*domain.Job, error) {
	if q.isClosed() {
		return nil, domain.ErrQueueClosed
	}
	job := domain.NewJob(uuid.NewString(), q.name, jobType, payload, opts)
	b, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal job: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, q.jobKey(job.ID), b, 0)
		p.LPush(ctx, q.key("wait"), job.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue: enqueue %s: %w", job.ID, err)
	}
	return job, nil
}

func (q *RedisQueue) Reserve(ctx context.Context) (*domain.Job, error) {
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()
	for {
		if q.isClosed() {
			return nil, domain.ErrQueueClosed
		}
		job, err := q.tryReserve(ctx)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			return nil, domain.ErrQueueClosed
		case <-ticker.C:
		}
	}
}

// tryReserve returns (nil, nil) when nothing is ready.
func (q *RedisQueue) tryReserve(ctx context.Context) (*domain.Job, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := promoteScript.Run(ctx, q.client, []string{q.key("delayed"), q.key("wait")}, now, promoteBatch).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("queue: promote delayed: %w", err)
	}
	id, err := q.client.RPopLPush(ctx, q.key("wait"), q.key("active")).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: reserve: %w", err)
	}
	job, err := q.GetJob(ctx, id)
	if errors.Is(err, domain.ErrJobNotFound) {
		q.log.Warn("dropping job without record", zap.String("job_id", id))
		q.client.LRem(ctx, q.key("active"), 1, id)
		return nil, nil
	}
	return job, err
}

func (q *RedisQueue) Complete(ctx context.Context, job *domain.Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.key("active"), 1, job.ID)
		p.Set(ctx, q.jobKey(job.ID), b, q.opts.FinishedTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue: complete %s: %w", job.ID, err)
	}
	return nil
}

func (q *RedisQueue) Retry(ctx context.Context, job *domain.Job, delay time.Duration) error {
	job.ProcessAt = time.Now().UTC().Add(delay)
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, q.jobKey(job.ID), b, 0)
		p.LRem(ctx, q.key("active"), 1, job.ID)
		if delay <= 0 {
			p.LPush(ctx, q.key("wait"), job.ID)
		} else {
			p.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(job.ProcessAt.UnixMilli()), Member: job.ID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue: retry %s: %w", job.ID, err)
	}
	return nil
}

func (q *RedisQueue) Fail(ctx context.Context, job *domain.Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.key("active"), 1, job.ID)
		p.Set(ctx, q.jobKey(job.ID), b, q.opts.FinishedTTL)
		p.LPush(ctx, q.key("failed"), job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue: fail %s: %w", job.ID, err)
	}
	return nil
}

func (q *RedisQueue) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	b, err := q.client.Get(ctx, q.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("queue: get job %s: %w", id, err)
	}
	var job domain.Job
	if err := json.Unmarshal(b, &job); err != nil {
		return nil, fmt.Errorf("queue: decode job %s: %w", id, err)
	}
	return &job, nil
}

// RecoverStalled puts jobs left on the active list by a previous process back on
// the wait list. Call it before starting workers.
func (q *RedisQueue) RecoverStalled(ctx context.Context) (int, error) {
	n := 0
	for {
		_, err := q.client.RPopLPush(ctx, q.key("active"), q.key("wait")).Result()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("queue: recover stalled: %w", err)
		}
		n++
	}
}

// Counts reports the number of job ids per list.
func (q *RedisQueue) Counts(ctx context.Context) (map[string]int64, error) {
	var wait, active, failed, delayed *redis.IntCmd
	_, err := q.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		wait = p.LLen(ctx, q.key("wait"))
		active = p.LLen(ctx, q.key("active"))
		failed = p.LLen(ctx, q.key("failed"))
		delayed = p.ZCard(ctx, q.key("delayed"))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue: counts: %w", err)
	}
	return map[string]int64{
		"wait":    wait.Val(),
		"active":  active.Val(),
		"delayed": delayed.Val(),
		"failed":  failed.Val(),
	}, nil
}

func (q *RedisQueue) HealthCheck(ctx context.Context) error {
	if q.isClosed() {
		return domain.ErrQueueClosed
	}
	return q.client.Ping(ctx).Err()
}

// Close stops Reserve from handing out jobs. The shared client is closed by its owner.
func (q *RedisQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

func (q *RedisQueue) isClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}
