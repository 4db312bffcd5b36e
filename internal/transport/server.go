package transport

import (
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"sluice/internal/cycle"
)

// Service is the health service name the loop reports under.
const Service = "sluice.Loop"

const DefaultFailureThreshold = 3

// Server serves the standard gRPC health protocol. It starts NOT_SERVING
// and follows the loop: SERVING after a clean cycle, NOT_SERVING after
// threshold consecutive failed cycles.
type Server struct {
	grpc   *grpc.Server
	lis    net.Listener
	health *health.Server

	mu        sync.Mutex
	failures  int
	threshold int
}

func StartServer(port, threshold int) (*Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	return NewServer(lis, threshold), nil
}

func NewServer(lis net.Listener, threshold int) *Server {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	s := &Server{
		grpc:      grpc.NewServer(),
		lis:       lis,
		health:    health.NewServer(),
		threshold: threshold,
	}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	return s
}

func (s *Server) Serve() error {
	return s.grpc.Serve(s.lis)
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func (s *Server) Addr() net.Addr { return s.lis.Addr() }

func (s *Server) CycleDone(_ cycle.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.failures = 0
		s.set(healthpb.HealthCheckResponse_SERVING)
		return
	}
	s.failures++
	if s.failures >= s.threshold {
		s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

func (s *Server) set(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(Service, st)
}
