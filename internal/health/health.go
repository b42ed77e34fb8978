// Package health serves grpc.health.v1 with the store's reachability as the
// serving status.
package health

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the service whose status tracks the store.
const ServiceName = "plan_store"

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	pinger   Pinger
	interval time.Duration
	log      zerolog.Logger
}

func NewServer(pinger Pinger, interval time.Duration, log zerolog.Logger) *Server {
	s := &Server{
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
		pinger:   pinger,
		interval: interval,
		log:      log,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

func (s *Server) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Probe pings the store once and publishes the result.
func (s *Server) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	if err := s.pinger.Ping(ctx); err != nil {
		s.log.Warn().Err(err).Msg("store ping failed")
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Watch probes every interval until ctx is done.
func (s *Server) Watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

func (s *Server) Serve(lis net.Listener) error {
	s.log.Info().Str("addr", lis.Addr().String()).Msg("gRPC health server listening")
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains the gRPC server.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
