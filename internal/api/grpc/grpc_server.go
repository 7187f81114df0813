package grpc

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const DefaultProbeInterval = 5 * time.Second

// Probe reports whether a dependency is usable.
type Probe func(ctx context.Context) error

// GRPCServer exposes the standard grpc.health.v1 service. Each named probe is
// reported as its own service and the empty service name is SERVING only when
// every probe passes.
type GRPCServer struct {
	srv      *grpc.Server
	health   *health.Server
	probes   map[string]Probe
	interval time.Duration
	log      *zap.Logger

	stopOnce sync.Once
	done     chan struct{}
}

func NewGRPCServer(probes map[string]Probe, interval time.Duration, log *zap.Logger) *GRPCServer {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	s := &GRPCServer{
		srv:      grpc.NewServer(),
		health:   health.NewServer(),
		probes:   probes,
		interval: interval,
		log:      log.Named("grpc"),
		done:     make(chan struct{}),
	}
	healthpb.RegisterHealthServer(s.srv, s.health)
	reflection.Register(s.srv)
	return s
}

// Refresh runs every probe once and updates the reported statuses.
func (s *GRPCServer) Refresh(ctx context.Context) {
	overall := healthpb.HealthCheckResponse_SERVING
	for name, probe := range s.probes {
		pctx, cancel := context.WithTimeout(ctx, s.interval)
		err := probe(pctx)
		cancel()
		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = healthpb.HealthCheckResponse_NOT_SERVING
			s.log.Warn("probe failed", zap.String("service", name), zap.Error(err))
		}
		s.health.SetServingStatus(name, status)
	}
	s.health.SetServingStatus("", overall)
}

// Serve refreshes statuses on an interval and blocks serving lis until Stop.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	s.Refresh(ctx)
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
				s.Refresh(ctx)
			}
		}
	}()
	s.log.Info("gRPC health server listening", zap.String("addr", lis.Addr().String()))
	return s.srv.Serve(lis)
}

func (s *GRPCServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.health.Shutdown()
		s.srv.GracefulStop()
	})
}
