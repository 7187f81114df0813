package port

import (
	"context"

	"github.com/olyamironova/order-execution-engine/internal/domain"
)

// OrderStore is the durable record of every order.
type OrderStore interface {
	CreateOrder(ctx context.Context, o *domain.Order) error
	// UpdateOrderStatus is idempotent for a repeated status, a no-op for unknown ids,
	// and never moves a terminal order to a different status.
	UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus, u domain.OrderUpdate) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	HealthCheck(ctx context.Context) error
}
