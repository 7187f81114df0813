package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/olyamironova/order-execution-engine/internal/adapter/broker"
	"github.com/olyamironova/order-execution-engine/internal/adapter/cache"
	"github.com/olyamironova/order-execution-engine/internal/adapter/dex"
	"github.com/olyamironova/order-execution-engine/internal/adapter/pg"
	"github.com/olyamironova/order-execution-engine/internal/api/grpc"
	"github.com/olyamironova/order-execution-engine/internal/api/http"
	"github.com/olyamironova/order-execution-engine/internal/config"
	"github.com/olyamironova/order-execution-engine/internal/core"
	"github.com/olyamironova/order-execution-engine/internal/domain"
	"github.com/olyamironova/order-execution-engine/internal/logger"
	"github.com/olyamironova/order-execution-engine/internal/worker"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	envFile := flag.String("env", "", "path to a .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	lg, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if err := run(cfg, lg); err != nil {
		lg.Error("server stopped", zap.Error(err))
		_ = lg.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, lg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := pg.NewPgStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.InitSchema(ctx); err != nil {
		return err
	}

	rdb, err := broker.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	bus := broker.NewRedisBus(rdb, broker.BusOptions{PublishTimeout: cfg.PublishTimeout}, lg)
	queue := broker.NewRedisQueue(rdb, cfg.Queue.Name, broker.QueueOptions{PollInterval: cfg.Queue.PollInterval}, lg)
	if n, err := queue.RecoverStalled(ctx); err != nil {
		lg.Warn("recover stalled jobs", zap.Error(err))
	} else if n > 0 {
		lg.Info("requeued stalled jobs", zap.Int("count", n))
	}
	orderCache := cache.NewRedisCache(rdb, cfg.OrderCacheTTL)

	venues := dex.NewSimulator(dex.Options{
		QuoteLatency:   cfg.Simulator.QuoteLatency,
		ExecuteLatency: cfg.Simulator.ExecuteLatency,
		FailureRate:    cfg.Simulator.FailureRate,
	}, lg)
	engine := core.NewEngine(store, bus, venues, core.Options{StepDelay: cfg.Engine.StepDelay}, lg)

	pool := worker.NewPool(queue, engine, worker.Options{Concurrency: cfg.Queue.Concurrency}, lg)
	// jobs keep running through shutdown; Stop lets the current attempt finish
	pool.Start(context.Background())

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	gateway := http.NewHTTPServer(store, queue, bus, orderCache, http.Options{
		JobOptions: domain.JobOptions{
			Attempts: cfg.Queue.Attempts,
			Backoff:  domain.BackoffPolicy{Type: domain.BackoffExponential, Base: cfg.Queue.Backoff},
		},
		RateLimit: cfg.RateLimit,
	}, lg)
	httpSrv := &stdhttp.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           gateway.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	healthSrv := grpc.NewGRPCServer(map[string]grpc.Probe{
		"orders.store": store.HealthCheck,
		"orders.bus":   bus.HealthCheck,
		"orders.queue": queue.HealthCheck,
	}, grpc.DefaultProbeInterval, lg)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		pool.Stop()
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		lg.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := healthSrv.Serve(ctx, lis); err != nil {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		lg.Info("shutting down")
	case serveErr = <-errCh:
		lg.Error("server failed", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("http shutdown", zap.Error(err))
	}
	pool.Stop()
	if err := queue.Close(); err != nil {
		lg.Warn("close queue", zap.Error(err))
	}
	if err := bus.Close(); err != nil {
		lg.Warn("close bus", zap.Error(err))
	}
	healthSrv.Stop()
	return serveErr
}
