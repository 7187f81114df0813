package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidOrder   = errors.New("invalid order")
	ErrDuplicateOrder = errors.New("order already exists")
	ErrOrderNotFound  = errors.New("order not found")
	ErrJobNotFound    = errors.New("job not found")
	ErrQueueClosed    = errors.New("queue is closed")
)

// ExecutionError wraps a failed quote or settlement call against a venue.
type ExecutionError struct {
	Op    string
	Venue Venue
	Err   error
}

func (e *ExecutionError) Error() string {
	if e.Venue == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Venue, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ExhaustedError is handed back once a job has used all of its attempts.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }
