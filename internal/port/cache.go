package port

import (
	"context"

	"github.com/olyamironova/order-execution-engine/internal/domain"
)

// OrderCache holds snapshots of terminal orders. A miss returns (nil, nil).
type OrderCache interface {
	SetOrder(ctx context.Context, o *domain.Order) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
}
