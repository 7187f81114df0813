package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/olyamironova/order-execution-engine/internal/api/dto"
	"github.com/olyamironova/order-execution-engine/internal/domain"
	"github.com/olyamironova/order-execution-engine/internal/metrics"
	"github.com/olyamironova/order-execution-engine/internal/middleware"
	"github.com/olyamironova/order-execution-engine/internal/port"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	executePath   = "/api/orders/execute"
	healthTimeout = 2 * time.Second
)

type Options struct {
	JobOptions domain.JobOptions
	RateLimit  time.Duration
}

// HTTPServer is the order gateway: it accepts orders, queues them and relays
// their status events over websockets.
type HTTPServer struct {
	store port.OrderStore
	queue port.JobQueue
	bus   port.Notifier
	cache port.OrderCache
	opts  Options
	log   *zap.Logger

	// limiter is shared by the POST route and orders sent over websockets.
	limiter *middleware.RateLimiter
}

// cache may be nil.
func NewHTTPServer(store port.OrderStore, queue port.JobQueue, bus port.Notifier, cache port.OrderCache, opts Options, log *zap.Logger) *HTTPServer {
	return &HTTPServer{
		store: store,
		queue: queue,
		bus:   bus,
		cache: cache,
		opts:  opts,
		log:   log.Named("gateway"),

		limiter: middleware.NewRateLimiter(opts.RateLimit),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(s.log))

	r.POST(executePath, s.limiter.Middleware(), s.executeOrder)
	r.GET(executePath, s.streamOrder)
	r.GET("/api/orders/:id", s.getOrder)
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func (s *HTTPServer) executeOrder(c *gin.Context) {
	var req dto.ExecuteOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.OrdersSubmitted.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o, err := newOrder(req)
	if err != nil {
		metrics.OrdersSubmitted.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.placeOrder(c.Request.Context(), o); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.ExecuteOrderResponse{
		OrderID:   o.ID,
		Websocket: executePath + "?orderId=" + o.ID,
	})
}

func (s *HTTPServer) getOrder(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if s.cache != nil {
		if o, err := s.cache.GetOrder(ctx, id); err == nil && o != nil {
			c.JSON(http.StatusOK, dto.GetOrderResponse{Order: convertOrder(o)})
			return
		}
	}
	o, err := s.store.GetOrder(ctx, id)
	if errors.Is(err, domain.ErrOrderNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if s.cache != nil && o.Status.IsTerminal() {
		if err := s.cache.SetOrder(ctx, o); err != nil {
			s.log.Warn("cache order", zap.String("order_id", id), zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, dto.GetOrderResponse{Order: convertOrder(o)})
}

type counter interface {
	Counts(ctx context.Context) (map[string]int64, error)
}

func (s *HTTPServer) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	resp := dto.HealthResponse{Status: "ok", Checks: map[string]string{}}
	checks := map[string]func(context.Context) error{
		"store": s.store.HealthCheck,
		"bus":   s.bus.HealthCheck,
		"queue": s.queue.HealthCheck,
	}
	for name, check := range checks {
		if err := check(ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}
	if qc, ok := s.queue.(counter); ok {
		if counts, err := qc.Counts(ctx); err == nil {
			resp.Queue = counts
		}
	}
	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

func newOrder(req dto.ExecuteOrderRequest) (*domain.Order, error) {
	o := domain.NewOrder(uuid.NewString(), req.TokenIn, req.TokenOut, req.Amount)
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// placeOrder stores a pending order and queues its execution. An order that
// cannot be queued is marked failed so it does not stay pending forever.
func (s *HTTPServer) placeOrder(ctx context.Context, o *domain.Order) error {
	if err := s.store.CreateOrder(ctx, o); err != nil {
		metrics.OrdersSubmitted.WithLabelValues("error").Inc()
		s.log.Error("create order", zap.String("order_id", o.ID), zap.Error(err))
		return err
	}
	job, err := s.queue.Enqueue(ctx, domain.JobExecute, *o, s.opts.JobOptions)
	if err != nil {
		metrics.OrdersSubmitted.WithLabelValues("error").Inc()
		s.log.Error("enqueue order", zap.String("order_id", o.ID), zap.Error(err))
		if uerr := s.store.UpdateOrderStatus(ctx, o.ID, domain.Failed, domain.OrderUpdate{Error: err.Error()}); uerr != nil {
			s.log.Error("mark unqueued order failed", zap.String("order_id", o.ID), zap.Error(uerr))
		}
		return err
	}
	metrics.OrdersSubmitted.WithLabelValues("accepted").Inc()
	s.log.Info("order accepted",
		zap.String("order_id", o.ID),
		zap.String("job_id", job.ID),
		zap.String("pair", o.TokenIn+"/"+o.TokenOut),
		zap.String("amount", o.Amount.String()))
	return nil
}

func convertOrder(o *domain.Order) dto.Order {
	return dto.Order{
		ID:            o.ID,
		TokenIn:       o.TokenIn,
		TokenOut:      o.TokenOut,
		Amount:        o.Amount,
		Status:        string(o.Status),
		Venue:         string(o.Venue),
		TxHash:        o.TxHash,
		ExecutedPrice: o.ExecutedPrice,
		Error:         o.Error,
		Attempts:      o.Attempts,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}
