package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string
type Venue string

const (
	Pending   OrderStatus = "pending"
	Routing   OrderStatus = "routing"
	Building  OrderStatus = "building"
	Submitted OrderStatus = "submitted"
	Confirmed OrderStatus = "confirmed"
	Failed    OrderStatus = "failed"

	Raydium Venue = "raydium"
	Meteora Venue = "meteora"
)

var statusRank = map[OrderStatus]int{
	Pending:   0,
	Routing:   1,
	Building:  2,
	Submitted: 3,
	Confirmed: 4,
	Failed:    5,
}

// Rank is the position of the status along the lifecycle, -1 for unknown values.
func (s OrderStatus) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

func (s OrderStatus) Valid() bool { return s.Rank() >= 0 }

func (s OrderStatus) IsTerminal() bool {
	return s == Confirmed || s == Failed
}

// CanTransition reports whether an order in status s may be moved to next.
// Terminal orders only accept their own status again, so redelivered jobs stay
// idempotent. A non-terminal order accepts any status because a retried
// attempt starts over from pending.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s.IsTerminal() {
		return s == next
	}
	return true
}

func (v Venue) Valid() bool {
	return v == Raydium || v == Meteora
}

type Order struct {
	ID            string
	TokenIn       string
	TokenOut      string
	Amount        decimal.Decimal
	Status        OrderStatus
	Venue         Venue
	TxHash        string
	ExecutedPrice float64
	Error         string
	Attempts      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewOrder returns a pending order with a fresh id. Validate is not called here.
func NewOrder(id, tokenIn, tokenOut string, amount decimal.Decimal) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:        id,
		TokenIn:   strings.TrimSpace(tokenIn),
		TokenOut:  strings.TrimSpace(tokenOut),
		Amount:    amount,
		Status:    Pending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (o *Order) Validate() error {
	if o == nil {
		return fmt.Errorf("%w: nil order", ErrInvalidOrder)
	}
	if strings.TrimSpace(o.TokenIn) == "" || strings.TrimSpace(o.TokenOut) == "" {
		return fmt.Errorf("%w: tokenIn and tokenOut are required", ErrInvalidOrder)
	}
	if !o.Amount.GreaterThan(decimal.Zero) {
		return fmt.Errorf("%w: amount must be > 0", ErrInvalidOrder)
	}
	return nil
}

// Apply copies the non-zero fields of u onto o together with the new status.
func (o *Order) Apply(status OrderStatus, u OrderUpdate) {
	o.Status = status
	if u.Venue != "" {
		o.Venue = u.Venue
	}
	if u.TxHash != "" {
		o.TxHash = u.TxHash
	}
	if u.ExecutedPrice > 0 {
		o.ExecutedPrice = u.ExecutedPrice
	}
	if u.Error != "" {
		o.Error = u.Error
	}
	if u.Attempts > o.Attempts {
		o.Attempts = u.Attempts
	}
	o.UpdatedAt = time.Now().UTC()
}

// OrderUpdate carries the optional columns written together with a status change.
// Zero values leave the stored value untouched.
type OrderUpdate struct {
	Venue         Venue
	TxHash        string
	ExecutedPrice float64
	Error         string
	Attempts      int
}

type Quote struct {
	Price float64 `json:"price"`
	Fee   float64 `json:"fee"`
}

func (q Quote) Validate() error {
	if q.Price <= 0 {
		return fmt.Errorf("quote price must be > 0, got %v", q.Price)
	}
	if q.Fee < 0 || q.Fee >= 1 {
		return fmt.Errorf("quote fee must be in [0,1), got %v", q.Fee)
	}
	return nil
}

type Receipt struct {
	TxHash        string
	ExecutedPrice float64
}
