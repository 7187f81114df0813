package in_memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/olyamironova/order-execution-engine/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(id string) *domain.Order {
	return domain.NewOrder(id, "SOL", "USDC", decimal.NewFromInt(1))
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate create", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.CreateOrder(ctx, newOrder("o1")))
		assert.ErrorIs(t, s.CreateOrder(ctx, newOrder("o1")), domain.ErrDuplicateOrder)
	})

	t.Run("confirmed is idempotent and final", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.CreateOrder(ctx, newOrder("o1")))
		u := domain.OrderUpdate{TxHash: "tx", ExecutedPrice: 100}
		require.NoError(t, s.UpdateOrderStatus(ctx, "o1", domain.Confirmed, u))
		require.NoError(t, s.UpdateOrderStatus(ctx, "o1", domain.Confirmed, u))
		require.NoError(t, s.UpdateOrderStatus(ctx, "o1", domain.Failed, domain.OrderUpdate{Error: "late"}))

		o, err := s.GetOrder(ctx, "o1")
		require.NoError(t, err)
		assert.Equal(t, domain.Confirmed, o.Status)
		assert.Equal(t, "tx", o.TxHash)
		assert.Equal(t, 100.0, o.ExecutedPrice)
		assert.Empty(t, o.Error)
	})

	t.Run("repeated confirmed only moves updated_at", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.CreateOrder(ctx, newOrder("o1")))
		require.NoError(t, s.UpdateOrderStatus(ctx, "o1", domain.Routing, domain.OrderUpdate{Venue: domain.Meteora}))
		require.NoError(t, s.UpdateOrderStatus(ctx, "o1", domain.Confirmed, domain.OrderUpdate{TxHash: "tx", ExecutedPrice: 100}))
		first, err := s.GetOrder(ctx, "o1")
		require.NoError(t, err)

		time.Sleep(2 * time.Millisecond)
		require.NoError(t, s.UpdateOrderStatus(ctx, "o1", domain.Confirmed, domain.OrderUpdate{}))
		second, err := s.GetOrder(ctx, "o1")
		require.NoError(t, err)

		assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
		second.UpdatedAt = first.UpdatedAt
		assert.Equal(t, first, second)
	})

	t.Run("retry restarts from pending", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.CreateOrder(ctx, newOrder("o1")))
		for _, st := range []domain.OrderStatus{domain.Routing, domain.Building, domain.Submitted, domain.Pending} {
			require.NoError(t, s.UpdateOrderStatus(ctx, "o1", st, domain.OrderUpdate{}))
		}
		o, err := s.GetOrder(ctx, "o1")
		require.NoError(t, err)
		assert.Equal(t, domain.Pending, o.Status)
	})

	t.Run("unknown id update is a no-op", func(t *testing.T) {
		s := NewMemoryStore()
		assert.NoError(t, s.UpdateOrderStatus(ctx, "nope", domain.Routing, domain.OrderUpdate{}))
		_, err := s.GetOrder(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})

	t.Run("failing store", func(t *testing.T) {
		s := NewMemoryStore()
		s.SetFailing(errors.New("db down"))
		assert.Error(t, s.HealthCheck(ctx))
		assert.Error(t, s.UpdateOrderStatus(ctx, "o1", domain.Routing, domain.OrderUpdate{}))
	})
}

func TestCacheOnlyKeepsTerminalOrders(t *testing.T) {
	ctx := context.Background()
	c := NewCache()

	o := newOrder("o1")
	require.NoError(t, c.SetOrder(ctx, o))
	got, err := c.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Nil(t, got)

	o.Status = domain.Failed
	require.NoError(t, c.SetOrder(ctx, o))
	got, err = c.GetOrder(ctx, "o1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.Failed, got.Status)
}

func TestBus(t *testing.T) {
	ctx := context.Background()

	t.Run("events reach only their order", func(t *testing.T) {
		b := NewBus(4)
		a := b.Subscribe(ctx, "a")
		other := b.Subscribe(ctx, "b")
		defer a.Close()
		defer other.Close()

		b.Publish(ctx, "a", domain.PendingEvent{ID: "a"})
		b.Publish(ctx, "a", domain.SubmittedEvent{ID: "a"})

		assert.Equal(t, domain.Pending, (<-a.C).Status())
		assert.Equal(t, domain.Submitted, (<-a.C).Status())
		assert.Len(t, other.C, 0)
	})

	t.Run("full subscriber drops instead of blocking", func(t *testing.T) {
		b := NewBus(1)
		sub := b.Subscribe(ctx, "a")
		defer sub.Close()

		done := make(chan struct{})
		go func() {
			for i := 0; i < 10; i++ {
				b.Publish(ctx, "a", domain.PendingEvent{ID: "a"})
			}
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("publish blocked on a full subscriber")
		}
		assert.Len(t, sub.C, 1)
	})

	t.Run("close ends the stream", func(t *testing.T) {
		b := NewBus(1)
		sub := b.Subscribe(ctx, "a")
		sub.Close()
		_, ok := <-sub.C
		assert.False(t, ok)
		b.Publish(ctx, "a", domain.PendingEvent{ID: "a"})
	})

	t.Run("context cancel ends the stream", func(t *testing.T) {
		b := NewBus(1)
		cctx, cancel := context.WithCancel(ctx)
		sub := b.Subscribe(cctx, "a")
		cancel()
		assert.Eventually(t, func() bool {
			select {
			case _, ok := <-sub.C:
				return !ok
			default:
				return false
			}
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("down transport degrades", func(t *testing.T) {
		b := NewBus(1)
		b.SetDown(true)
		sub := b.Subscribe(ctx, "a")
		_, ok := <-sub.C
		assert.False(t, ok)
		b.Publish(ctx, "a", domain.PendingEvent{ID: "a"})
		assert.Error(t, b.HealthCheck(ctx))
	})
}

func TestQueue(t *testing.T) {
	ctx := context.Background()

	t.Run("reserve returns the enqueued payload", func(t *testing.T) {
		q := NewQueue("orders")
		defer q.Close()
		o := newOrder("o1")
		job, err := q.Enqueue(ctx, domain.JobExecute, *o, domain.JobOptions{Attempts: 3})
		require.NoError(t, err)

		got, err := q.Reserve(ctx)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, "o1", got.Payload.OrderID)
		assert.Equal(t, 3, got.MaxAttempts)
	})

	t.Run("retry waits for the delay", func(t *testing.T) {
		q := NewQueue("orders")
		defer q.Close()
		_, err := q.Enqueue(ctx, domain.JobExecute, *newOrder("o1"), domain.JobOptions{Attempts: 2})
		require.NoError(t, err)
		job, err := q.Reserve(ctx)
		require.NoError(t, err)

		job.AttemptsMade = 1
		job.LastError = "boom"
		start := time.Now()
		require.NoError(t, q.Retry(ctx, job, 50*time.Millisecond))

		again, err := q.Reserve(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 45*time.Millisecond)
		assert.Equal(t, 1, again.AttemptsMade)
		assert.Equal(t, "boom", again.LastError)
	})

	t.Run("reserve honours context", func(t *testing.T) {
		q := NewQueue("orders")
		defer q.Close()
		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err := q.Reserve(cctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("close unblocks reserve", func(t *testing.T) {
		q := NewQueue("orders")
		errs := make(chan error, 1)
		go func() {
			_, err := q.Reserve(ctx)
			errs <- err
		}()
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, q.Close())
		assert.ErrorIs(t, <-errs, domain.ErrQueueClosed)
	})

	t.Run("fail records the job", func(t *testing.T) {
		q := NewQueue("orders")
		defer q.Close()
		job, err := q.Enqueue(ctx, domain.JobExecute, *newOrder("o1"), domain.JobOptions{})
		require.NoError(t, err)
		require.NoError(t, q.Fail(ctx, job))
		assert.Equal(t, []string{job.ID}, q.Failed())
	})
}
