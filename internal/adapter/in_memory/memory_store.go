package in_memory

import (
	"context"
	"errors"
	"sync"

	"github.com/olyamironova/order-execution-engine/internal/domain"
	"github.com/olyamironova/order-execution-engine/internal/port"
)

var _ port.OrderStore = (*MemoryStore)(nil)

type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
	// history keeps every status written per order, in order.
	history map[string][]domain.OrderStatus
	failing error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:  make(map[string]*domain.Order),
		history: make(map[string][]domain.OrderStatus),
	}
}

func (r *MemoryStore) CreateOrder(ctx context.Context, o *domain.Order) error {
	if o == nil {
		return errors.New("nil order")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing != nil {
		return r.failing
	}
	if _, ok := r.orders[o.ID]; ok {
		return domain.ErrDuplicateOrder
	}
	cp := *o
	r.orders[o.ID] = &cp
	r.history[o.ID] = append(r.history[o.ID], o.Status)
	return nil
}

func (r *MemoryStore) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus, u domain.OrderUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing != nil {
		return r.failing
	}
	o, ok := r.orders[id]
	if !ok {
		return nil
	}
	if !o.Status.CanTransition(status) {
		return nil
	}
	o.Apply(status, u)
	r.history[id] = append(r.history[id], status)
	return nil
}

func (r *MemoryStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing != nil {
		return nil, r.failing
	}
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *MemoryStore) HealthCheck(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failing
}

// History returns the statuses written for id, oldest first.
func (r *MemoryStore) History(id string) []domain.OrderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.OrderStatus(nil), r.history[id]...)
}

// SetFailing makes every call return err until it is called again with nil.
func (r *MemoryStore) SetFailing(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing = err
}
