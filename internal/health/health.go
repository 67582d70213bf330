// Package health runs a standard gRPC health-check service alongside
// the admin HTTP server so process supervisors can probe liveness
// over gRPC as well as HTTP (spec §10 domain stack).
package health

import (
	"context"
	"net"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/health"

	"github.com/stemrun/stemcore/internal/ledger"
)

// Server wraps a grpc.Server exposing the standard health service,
// with serving status derived from the ledger's ability to answer
// AssertConsistent.
type Server struct {
	grpcServer *grpc.Server
	healthSrv  *health.Server
}

const serviceName = "stemrun.stem.v1.StemService"

// New constructs a Server. l is checked for consistency once here to
// set serviceName's serving status; the status changes afterwards only
// when Refresh is called, not on each health check request.
func New(l *ledger.Ledger) *Server {
	healthSrv := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	status := healthpb.HealthCheckResponse_SERVING
	if err := l.AssertConsistent(); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}

	healthSrv.SetServingStatus(serviceName, status)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return &Server{grpcServer: grpcServer, healthSrv: healthSrv}
}

// Refresh re-derives the service's serving status from the ledger's
// current consistency.
func (s *Server) Refresh(l *ledger.Ledger) {
	status := healthpb.HealthCheckResponse_SERVING
	if err := l.AssertConsistent(); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}

	s.healthSrv.SetServingStatus(serviceName, status)
}

// Serve blocks accepting gRPC connections on lis.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Stop gracefully stops the gRPC server.
func (s *Server) Stop(ctx context.Context) {
	done := make(chan struct{})

	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
}
