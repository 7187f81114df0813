package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffFixed       BackoffType = "fixed"

	JobExecute = "execute"
)

type BackoffPolicy struct {
	Type BackoffType   `json:"type"`
	Base time.Duration `json:"delay"`
}

// Delay returns the wait before the next attempt once attemptsMade attempts have failed.
// Exponential policies double the base each time: base, 2*base, 4*base...
func (b BackoffPolicy) Delay(attemptsMade int) time.Duration {
	if b.Base <= 0 || attemptsMade < 1 {
		return 0
	}
	if b.Type != BackoffExponential {
		return b.Base
	}
	shift := attemptsMade - 1
	if shift > 30 {
		shift = 30
	}
	return b.Base << shift
}

type JobOptions struct {
	Attempts int
	Backoff  BackoffPolicy
}

func (o JobOptions) withDefaults() JobOptions {
	if o.Attempts < 1 {
		o.Attempts = 1
	}
	if o.Backoff.Type == "" {
		o.Backoff.Type = BackoffFixed
	}
	return o
}

// Job is a unit of queued work. Payload is a snapshot taken at enqueue time and
// is redelivered unchanged on every attempt.
type Job struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Queue        string        `json:"queue"`
	Payload      JobPayload    `json:"payload"`
	AttemptsMade int           `json:"attemptsMade"`
	MaxAttempts  int           `json:"maxAttempts"`
	Backoff      BackoffPolicy `json:"backoff"`
	LastError    string        `json:"lastError,omitempty"`
	EnqueuedAt   time.Time     `json:"enqueuedAt"`
	ProcessAt    time.Time     `json:"processAt"`
}

func NewJob(id, queue, jobType string, payload Order, opts JobOptions) *Job {
	opts = opts.withDefaults()
	now := time.Now().UTC()
	return &Job{
		ID:          id,
		Type:        jobType,
		Queue:       queue,
		Payload:     PayloadFromOrder(payload),
		MaxAttempts: opts.Attempts,
		Backoff:     opts.Backoff,
		EnqueuedAt:  now,
		ProcessAt:   now,
	}
}

func (j *Job) Exhausted() bool {
	return j.AttemptsMade >= j.MaxAttempts
}

// JobPayload is the wire form of the order carried by a job.
type JobPayload struct {
	OrderID  string `json:"orderId"`
	TokenIn  string `json:"tokenIn"`
	TokenOut string `json:"tokenOut"`
	Amount   string `json:"amount"`
}

func PayloadFromOrder(o Order) JobPayload {
	return JobPayload{
		OrderID:  o.ID,
		TokenIn:  o.TokenIn,
		TokenOut: o.TokenOut,
		Amount:   o.Amount.String(),
	}
}

// Order rebuilds the order snapshot. A malformed amount yields zero, which Validate rejects.
func (p JobPayload) Order() Order {
	o := Order{
		ID:       p.OrderID,
		TokenIn:  p.TokenIn,
		TokenOut: p.TokenOut,
		Status:   Pending,
	}
	if amt, err := decimal.NewFromString(p.Amount); err == nil {
		o.Amount = amt
	}
	return o
}
