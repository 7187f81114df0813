package port

import (
	"context"
	"sync"

	"github.com/olyamironova/order-execution-engine/internal/domain"
)

// Notifier fans status events out to subscribers of a single order.
// Publish is best effort: it never blocks on slow subscribers and never fails the caller.
type Notifier interface {
	Publish(ctx context.Context, orderID string, ev domain.StatusEvent)
	Subscribe(ctx context.Context, orderID string) *Subscription
	HealthCheck(ctx context.Context) error
	Close() error
}

// Subscription is a cancellable stream of events for one order.
// C is closed once the subscription ends.
type Subscription struct {
	C <-chan domain.StatusEvent

	once   sync.Once
	cancel func()
}

func NewSubscription(c <-chan domain.StatusEvent, cancel func()) *Subscription {
	return &Subscription{C: c, cancel: cancel}
}

// ClosedSubscription delivers nothing. It is handed out when the transport is down.
func ClosedSubscription() *Subscription {
	c := make(chan domain.StatusEvent)
	close(c)
	return &Subscription{C: c}
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}
