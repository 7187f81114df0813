package in_memory

import (
	"context"
	"sync"

	"github.com/olyamironova/order-execution-engine/internal/domain"
	"github.com/olyamironova/order-execution-engine/internal/port"
)

type Cache struct {
	mu    sync.Mutex
	store map[string]*domain.Order
}

var _ port.OrderCache = (*Cache)(nil)

func NewCache() *Cache {
	return &Cache{store: make(map[string]*domain.Order)}
}

func (c *Cache) SetOrder(ctx context.Context, o *domain.Order) error {
	if o == nil || !o.Status.IsTerminal() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	copy := *o
	c.store[o.ID] = &copy
	return nil
}

func (c *Cache) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.store[id]
	if !ok {
		return nil, nil
	}
	copy := *o
	return &copy, nil
}
