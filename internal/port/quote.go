package port

import (
	"context"

	"github.com/olyamironova/order-execution-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// QuoteSource prices and settles swaps on a venue.
type QuoteSource interface {
	GetQuote(ctx context.Context, venue domain.Venue, tokenIn, tokenOut string, amount decimal.Decimal) (domain.Quote, error)
	Execute(ctx context.Context, venue domain.Venue, o domain.Order) (domain.Receipt, error)
}
