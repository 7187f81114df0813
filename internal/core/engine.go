package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/olyamironova/order-execution-engine/internal/domain"
	"github.com/olyamironova/order-execution-engine/internal/metrics"
	"github.com/olyamironova/order-execution-engine/internal/port"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	// StepDelay is an optional pause between the building, submitted and settlement steps.
	StepDelay time.Duration
}

// Engine drives one order through routing and settlement. Every transition is
// written to the store before it is published.
type Engine struct {
	store  port.OrderStore
	bus    port.Notifier
	quotes port.QuoteSource
	opts   Options
	log    *zap.Logger
}

func NewEngine(store port.OrderStore, bus port.Notifier, quotes port.QuoteSource, opts Options, log *zap.Logger) *Engine {
	return &Engine{
		store:  store,
		bus:    bus,
		quotes: quotes,
		opts:   opts,
		log:    log.Named("engine"),
	}
}

// Process runs a single attempt from PENDING to CONFIRMED. Any returned error
// leaves the order for the queue to retry; FAILED is only written by OnExhausted.
func (e *Engine) Process(ctx context.Context, job *domain.Job) error {
	o := job.Payload.Order()
	if err := o.Validate(); err != nil {
		return err
	}
	log := e.log.With(
		zap.String("order_id", o.ID),
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.AttemptsMade))

	// orders are stored before they are queued; a missing row is retried
	cur, err := e.store.GetOrder(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	if cur.Status.IsTerminal() {
		log.Info("order already final, skipping", zap.String("status", string(cur.Status)))
		return nil
	}

	if err := e.transition(ctx, domain.PendingEvent{ID: o.ID}, domain.OrderUpdate{}); err != nil {
		return err
	}

	rq, mq, err := e.fetchQuotes(ctx, o)
	if err != nil {
		log.Warn("routing failed", zap.Error(err))
		return err
	}
	chosen := ChooseVenue(rq, mq)
	metrics.VenueChosen.WithLabelValues(string(chosen)).Inc()
	log.Info("routed",
		zap.String("venue", string(chosen)),
		zap.Float64("raydium_price", rq.Price),
		zap.Float64("meteora_price", mq.Price))

	if err := e.transition(ctx, domain.RoutingEvent{ID: o.ID, Chosen: chosen, RQuote: rq, MQuote: mq},
		domain.OrderUpdate{Venue: chosen}); err != nil {
		return err
	}
	if err := e.pause(ctx); err != nil {
		return err
	}
	if err := e.transition(ctx, domain.BuildingEvent{ID: o.ID, Chosen: chosen, RQuote: rq, MQuote: mq},
		domain.OrderUpdate{Venue: chosen}); err != nil {
		return err
	}
	if err := e.pause(ctx); err != nil {
		return err
	}
	if err := e.transition(ctx, domain.SubmittedEvent{ID: o.ID}, domain.OrderUpdate{}); err != nil {
		return err
	}
	if err := e.pause(ctx); err != nil {
		return err
	}

	receipt, err := e.quotes.Execute(ctx, chosen, o)
	if err != nil {
		log.Warn("settlement failed", zap.Error(err))
		return asExecutionError("execute", chosen, err)
	}
	if receipt.TxHash == "" || receipt.ExecutedPrice <= 0 {
		return &domain.ExecutionError{Op: "execute", Venue: chosen, Err: fmt.Errorf("incomplete receipt %+v", receipt)}
	}

	if err := e.transition(ctx,
		domain.ConfirmedEvent{ID: o.ID, TxHash: receipt.TxHash, ExecutedPrice: receipt.ExecutedPrice},
		domain.OrderUpdate{Venue: chosen, TxHash: receipt.TxHash, ExecutedPrice: receipt.ExecutedPrice}); err != nil {
		return err
	}
	log.Info("order confirmed", zap.String("tx_hash", receipt.TxHash), zap.Float64("executed_price", receipt.ExecutedPrice))
	return nil
}

// OnExhausted records the final failure once the job has no attempts left.
func (e *Engine) OnExhausted(ctx context.Context, job *domain.Job, cause error) error {
	attempts := job.AttemptsMade
	msg := job.LastError
	var ex *domain.ExhaustedError
	if errors.As(cause, &ex) {
		attempts = ex.Attempts
		if ex.Err != nil {
			msg = ex.Err.Error()
		}
	} else if cause != nil {
		msg = cause.Error()
	}
	if msg == "" {
		msg = "unknown error"
	}

	id := job.Payload.OrderID
	e.log.Warn("order failed",
		zap.String("order_id", id),
		zap.String("job_id", job.ID),
		zap.Int("attempts", attempts),
		zap.String("error", msg))
	return e.transition(ctx, domain.FailedEvent{ID: id, Error: msg, Attempts: attempts},
		domain.OrderUpdate{Error: msg, Attempts: attempts})
}

// ChooseVenue picks the lower quoted price. Ties go to raydium.
func ChooseVenue(r, m domain.Quote) domain.Venue {
	if r.Price <= m.Price {
		return domain.Raydium
	}
	return domain.Meteora
}

func (e *Engine) transition(ctx context.Context, ev domain.StatusEvent, u domain.OrderUpdate) error {
	if err := e.store.UpdateOrderStatus(ctx, ev.OrderID(), ev.Status(), u); err != nil {
		return fmt.Errorf("persist %s: %w", ev.Status(), err)
	}
	metrics.OrderTransitions.WithLabelValues(string(ev.Status())).Inc()
	e.bus.Publish(ctx, ev.OrderID(), ev)
	return nil
}

func (e *Engine) fetchQuotes(ctx context.Context, o domain.Order) (domain.Quote, domain.Quote, error) {
	var rq, mq domain.Quote
	g, gctx := errgroup.WithContext(ctx)
	fetch := func(venue domain.Venue, dst *domain.Quote) func() error {
		return func() error {
			start := time.Now()
			q, err := e.quotes.GetQuote(gctx, venue, o.TokenIn, o.TokenOut, o.Amount)
			metrics.QuoteLatency.WithLabelValues(string(venue)).Observe(time.Since(start).Seconds())
			if err != nil {
				return asExecutionError("quote", venue, err)
			}
			if err := q.Validate(); err != nil {
				return &domain.ExecutionError{Op: "quote", Venue: venue, Err: err}
			}
			*dst = q
			return nil
		}
	}
	g.Go(fetch(domain.Raydium, &rq))
	g.Go(fetch(domain.Meteora, &mq))
	if err := g.Wait(); err != nil {
		return domain.Quote{}, domain.Quote{}, err
	}
	return rq, mq, nil
}

func (e *Engine) pause(ctx context.Context) error {
	if e.opts.StepDelay <= 0 {
		return nil
	}
	t := time.NewTimer(e.opts.StepDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func asExecutionError(op string, venue domain.Venue, err error) error {
	var execErr *domain.ExecutionError
	if errors.As(err, &execErr) {
		return err
	}
	return &domain.ExecutionError{Op: op, Venue: venue, Err: err}
}
