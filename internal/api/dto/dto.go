package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecuteOrderRequest is accepted both as the POST body and as a websocket message.
// Amount may be sent as a JSON number or string.
type ExecuteOrderRequest struct {
	TokenIn  string          `json:"tokenIn" binding:"required"`
	TokenOut string          `json:"tokenOut" binding:"required"`
	Amount   decimal.Decimal `json:"amount"`
}

type ExecuteOrderResponse struct {
	OrderID   string `json:"orderId"`
	Websocket string `json:"websocket,omitempty"`
}

type Order struct {
	ID            string          `json:"orderId"`
	TokenIn       string          `json:"tokenIn"`
	TokenOut      string          `json:"tokenOut"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	Venue         string          `json:"venue,omitempty"`
	TxHash        string          `json:"txHash,omitempty"`
	ExecutedPrice float64         `json:"executedPrice,omitempty"`
	Error         string          `json:"error,omitempty"`
	Attempts      int             `json:"attempts,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

type GetOrderResponse struct {
	Order Order `json:"order"`
}

// StreamError is sent over the websocket when a message cannot be handled.
type StreamError struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Queue  map[string]int64  `json:"queue,omitempty"`
}
