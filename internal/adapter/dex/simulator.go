package dex

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/order-execution-engine/internal/domain"
	"github.com/olyamironova/order-execution-engine/internal/port"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var _ port.QuoteSource = (*Simulator)(nil)

var ErrSimulatedFailure = errors.New("simulated venue failure")

const DefaultBasePrice = 100.0

type Options struct {
	BasePrice float64
	// QuoteLatency and ExecuteLatency are minimum delays; up to half again is added as jitter.
	QuoteLatency   time.Duration
	ExecuteLatency time.Duration
	// FailureRate is the probability in [0,1] that Execute fails.
	FailureRate float64
	Seed        uint64
}

type band struct {
	low, width, fee float64
}

var venues = map[domain.Venue]band{
	domain.Raydium: {low: 0.98, width: 0.04, fee: 0.003},
	domain.Meteora: {low: 0.97, width: 0.05, fee: 0.002},
}

// Simulator prices and settles swaps without touching a chain.
type Simulator struct {
	opts Options
	log  *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulator(opts Options, log *zap.Logger) *Simulator {
	if opts.BasePrice <= 0 {
		opts.BasePrice = DefaultBasePrice
	}
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Simulator{
		opts: opts,
		log:  log.Named("dex"),
		rng:  rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
}

func (s *Simulator) GetQuote(ctx context.Context, venue domain.Venue, tokenIn, tokenOut string, amount decimal.Decimal) (domain.Quote, error) {
	b, ok := venues[venue]
	if !ok {
		return domain.Quote{}, &domain.ExecutionError{Op: "quote", Venue: venue, Err: fmt.Errorf("unknown venue")}
	}
	if err := s.sleep(ctx, s.opts.QuoteLatency); err != nil {
		return domain.Quote{}, &domain.ExecutionError{Op: "quote", Venue: venue, Err: err}
	}
	q := domain.Quote{
		Price: s.opts.BasePrice * (b.low + s.float()*b.width),
		Fee:   b.fee,
	}
	s.log.Debug("quote",
		zap.String("venue", string(venue)),
		zap.String("pair", tokenIn+"/"+tokenOut),
		zap.String("amount", amount.String()),
		zap.Float64("price", q.Price))
	return q, nil
}

func (s *Simulator) Execute(ctx context.Context, venue domain.Venue, o domain.Order) (domain.Receipt, error) {
	if !venue.Valid() {
		return domain.Receipt{}, &domain.ExecutionError{Op: "execute", Venue: venue, Err: fmt.Errorf("unknown venue")}
	}
	if err := s.sleep(ctx, s.opts.ExecuteLatency); err != nil {
		return domain.Receipt{}, &domain.ExecutionError{Op: "execute", Venue: venue, Err: err}
	}
	if s.opts.FailureRate > 0 && s.float() < s.opts.FailureRate {
		return domain.Receipt{}, &domain.ExecutionError{Op: "execute", Venue: venue, Err: ErrSimulatedFailure}
	}
	r := domain.Receipt{
		TxHash:        uuid.NewString(),
		ExecutedPrice: s.opts.BasePrice * (0.98 + s.float()*0.04),
	}
	s.log.Debug("swap executed",
		zap.String("order_id", o.ID),
		zap.String("venue", string(venue)),
		zap.String("tx_hash", r.TxHash))
	return r, nil
}

func (s *Simulator) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Simulator) sleep(ctx context.Context, base time.Duration) error {
	if base <= 0 {
		return ctx.Err()
	}
	d := base + time.Duration(s.float()*float64(base)/2)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
