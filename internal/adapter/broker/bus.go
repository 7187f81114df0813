package broker

import (
	"context"
	"sync"
	"time"

	"github.com/olyamironova/order-execution-engine/internal/domain"
	"github.com/olyamironova/order-execution-engine/internal/metrics"
	"github.com/olyamironova/order-execution-engine/internal/port"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ port.Notifier = (*RedisBus)(nil)

const (
	DefaultPublishTimeout   = 500 * time.Millisecond
	DefaultSubscriberBuffer = 64
)

func Channel(orderID string) string { return "order:" + orderID }

type BusOptions struct {
	PublishTimeout   time.Duration
	SubscriberBuffer int
}

// RedisBus publishes order events over Redis Pub/Sub, one channel per order.
type RedisBus struct {
	client *redis.Client
	log    *zap.Logger
	opts   BusOptions

	mu     sync.Mutex
	subs   map[*redis.PubSub]struct{}
	closed bool
}

func NewRedisBus(client *redis.Client, opts BusOptions, log *zap.Logger) *RedisBus {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = DefaultSubscriberBuffer
	}
	return &RedisBus{
		client: client,
		log:    log.Named("bus"),
		opts:   opts,
		subs:   make(map[*redis.PubSub]struct{}),
	}
}

// Publish never returns an error: a lost event only costs a subscriber one update.
func (b *RedisBus) Publish(ctx context.Context, orderID string, ev domain.StatusEvent) {
	payload, err := domain.EncodeEvent(ev)
	if err != nil {
		b.log.Error("encode event", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	pctx, cancel := context.WithTimeout(ctx, b.opts.PublishTimeout)
	defer cancel()
	if err := b.client.Publish(pctx, Channel(orderID), payload).Err(); err != nil {
		metrics.EventsPublished.WithLabelValues(string(ev.Status()), "error").Inc()
		b.log.Warn("publish failed",
			zap.String("order_id", orderID),
			zap.String("status", string(ev.Status())),
			zap.Error(err))
		return
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Status()), "ok").Inc()
}

func (b *RedisBus) Subscribe(ctx context.Context, orderID string) *port.Subscription {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return port.ClosedSubscription()
	}
	b.mu.Unlock()

	ps := b.client.Subscribe(ctx, Channel(orderID))
	rctx, cancel := context.WithTimeout(ctx, b.opts.PublishTimeout)
	_, err := ps.Receive(rctx)
	cancel()
	if err != nil {
		b.log.Warn("subscribe failed", zap.String("order_id", orderID), zap.Error(err))
		_ = ps.Close()
		return port.ClosedSubscription()
	}

	b.mu.Lock()
	b.subs[ps] = struct{}{}
	b.mu.Unlock()

	out := make(chan domain.StatusEvent, b.opts.SubscriberBuffer)
	sctx, stop := context.WithCancel(ctx)
	msgs := ps.Channel()
	go func() {
		defer close(out)
		defer b.release(ps)
		for {
			select {
			case <-sctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := domain.DecodeEvent([]byte(msg.Payload))
				if err != nil {
					b.log.Warn("drop malformed event", zap.String("order_id", orderID), zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				default:
					metrics.EventsDropped.Inc()
				}
			}
		}
	}()
	return port.NewSubscription(out, stop)
}

func (b *RedisBus) release(ps *redis.PubSub) {
	b.mu.Lock()
	delete(b.subs, ps)
	b.mu.Unlock()
	_ = ps.Close()
}

func (b *RedisBus) HealthCheck(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close ends every open subscription. The shared client is closed by its owner.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := make([]*redis.PubSub, 0, len(b.subs))
	for ps := range b.subs {
		subs = append(subs, ps)
	}
	b.mu.Unlock()
	for _, ps := range subs {
		_ = ps.Close()
	}
	return nil
}
