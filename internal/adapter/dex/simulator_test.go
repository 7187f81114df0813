package dex

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/olyamironova/order-execution-engine/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestQuoteBands(t *testing.T) {
	sim := NewSimulator(Options{Seed: 7}, zap.NewNop())
	ctx := context.Background()
	amt := decimal.NewFromInt(1)

	for i := 0; i < 200; i++ {
		r, err := sim.GetQuote(ctx, domain.Raydium, "SOL", "USDC", amt)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, r.Price, 98.0)
		assert.LessOrEqual(t, r.Price, 102.0)
		assert.Equal(t, 0.003, r.Fee)

		m, err := sim.GetQuote(ctx, domain.Meteora, "SOL", "USDC", amt)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, m.Price, 97.0)
		assert.LessOrEqual(t, m.Price, 102.0)
		assert.Equal(t, 0.002, m.Fee)
	}
}

func TestUnknownVenue(t *testing.T) {
	sim := NewSimulator(Options{}, zap.NewNop())
	_, err := sim.GetQuote(context.Background(), "orca", "SOL", "USDC", decimal.NewFromInt(1))
	var execErr *domain.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "quote", execErr.Op)
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	o := *domain.NewOrder("o1", "SOL", "USDC", decimal.NewFromInt(1))

	t.Run("receipt", func(t *testing.T) {
		sim := NewSimulator(Options{Seed: 1}, zap.NewNop())
		r, err := sim.Execute(ctx, domain.Raydium, o)
		require.NoError(t, err)
		assert.NotEmpty(t, r.TxHash)
		assert.Greater(t, r.ExecutedPrice, 0.0)
	})

	t.Run("always failing", func(t *testing.T) {
		sim := NewSimulator(Options{FailureRate: 1}, zap.NewNop())
		_, err := sim.Execute(ctx, domain.Meteora, o)
		assert.ErrorIs(t, err, ErrSimulatedFailure)
	})

	t.Run("latency honours context", func(t *testing.T) {
		sim := NewSimulator(Options{ExecuteLatency: time.Second}, zap.NewNop())
		cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		_, err := sim.Execute(cctx, domain.Raydium, o)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
