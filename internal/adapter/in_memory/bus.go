package in_memory

import (
	"context"
	"errors"
	"sync"

	"github.com/olyamironova/order-execution-engine/internal/domain"
	"github.com/olyamironova/order-execution-engine/internal/port"
)

var _ port.Notifier = (*Bus)(nil)

const defaultSubscriberBuffer = 64

// Bus is a process-local Notifier with the same drop-on-full semantics as the Redis bus.
type Bus struct {
	mu     sync.Mutex
	subs   map[string]map[chan domain.StatusEvent]struct{}
	buffer int
	down   bool
	closed bool

	// published records every event handed to Publish, including dropped ones.
	published []domain.StatusEvent
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Bus{
		subs:   make(map[string]map[chan domain.StatusEvent]struct{}),
		buffer: buffer,
	}
}

func (b *Bus) Publish(ctx context.Context, orderID string, ev domain.StatusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, ev)
	if b.down || b.closed {
		return
	}
	for ch := range b.subs[orderID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *Bus) Subscribe(ctx context.Context, orderID string) *port.Subscription {
	b.mu.Lock()
	if b.down || b.closed {
		b.mu.Unlock()
		return port.ClosedSubscription()
	}
	ch := make(chan domain.StatusEvent, b.buffer)
	if b.subs[orderID] == nil {
		b.subs[orderID] = make(map[chan domain.StatusEvent]struct{})
	}
	b.subs[orderID][ch] = struct{}{}
	b.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			b.remove(orderID, ch)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return port.NewSubscription(ch, cancel)
}

func (b *Bus) remove(orderID string, ch chan domain.StatusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[orderID]
	if !ok {
		return
	}
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	close(ch)
	if len(set) == 0 {
		delete(b.subs, orderID)
	}
}

func (b *Bus) HealthCheck(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return errors.New("bus unavailable")
	}
	return nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, set := range b.subs {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, id)
	}
	return nil
}

// SetDown simulates a lost transport: publishes are dropped and new subscriptions are empty.
func (b *Bus) SetDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

// Published returns the events handed to Publish for orderID.
func (b *Bus) Published(orderID string) []domain.StatusEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var res []domain.StatusEvent
	for _, ev := range b.published {
		if ev.OrderID() == orderID {
			res = append(res, ev)
		}
	}
	return res
}
