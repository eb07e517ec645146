package grpcapi

import (
	"context"
	"errors"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"gatekeep.org/internal/admin"
	"gatekeep.org/internal/auth"
	"gatekeep.org/internal/oauth"
	"gatekeep.org/internal/obs"
)

// Services are the domain services exposed over RPC. OAuth holds one
// service per configured provider.
type Services struct {
	Auth  *auth.Service
	Admin *admin.Service
	OAuth []*oauth.Service
}

type Option func(*Server)

func WithLogger(l obs.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRateLimit enables the per-caller limiter. A non-positive rate leaves it off.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		s.ratePerSecond = perSecond
		s.rateBurst = burst
	}
}

// WithServerOptions passes extra options to grpc.NewServer.
func WithServerOptions(opts ...grpc.ServerOption) Option {
	return func(s *Server) {
		s.serverOpts = append(s.serverOpts, opts...)
	}
}

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(context.Context) error

// Server wires the services into a gRPC server with the standard health
// service and the interceptor chain.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    obs.Logger

	ratePerSecond float64
	rateBurst     int
	serverOpts    []grpc.ServerOption
}

func NewServer(svcs Services, opts ...Option) (*Server, error) {
	if svcs.Auth == nil || svcs.Admin == nil {
		return nil, errors.New("grpcapi: auth and admin services are required")
	}
	s := &Server{log: obs.Nop{}}
	for _, opt := range opts {
		opt(s)
	}

	chain := []grpc.UnaryServerInterceptor{
		Recovery(s.log),
		Logging(s.log),
		Metrics(),
		Errors(s.log),
		Signature(s.log),
	}
	if s.ratePerSecond > 0 {
		chain = append(chain, RateLimit(s.ratePerSecond, s.rateBurst))
	}
	serverOpts := append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(chain...)}, s.serverOpts...)
	s.grpc = grpc.NewServer(serverOpts...)

	RegisterAuthServer(s.grpc, authHandler{svcs.Auth})
	RegisterUserServer(s.grpc, userHandler{svcs.Auth})
	RegisterAdminRoleServer(s.grpc, adminHandler{svcs.Admin})
	for _, o := range svcs.OAuth {
		RegisterOAuthServer(s.grpc, o.Provider(), oauthHandler{o})
	}

	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.SetServing(true)
	return s, nil
}

// GRPC exposes the underlying server, e.g. for reflection registration.
func (s *Server) GRPC() *grpc.Server { return s.grpc }

func (s *Server) Serve(lis net.Listener) error {
	err := s.grpc.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// SetServing flips the overall health status.
func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
}

// WatchReadiness runs checks every interval until ctx ends and mirrors the
// result into the health service.
func (s *Server) WatchReadiness(ctx context.Context, interval time.Duration, checks ...ReadinessCheck) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ready := true
	for {
		ok := true
		for _, check := range checks {
			cctx, cancel := context.WithTimeout(ctx, interval)
			err := check(cctx)
			cancel()
			if err != nil {
				ok = false
				s.log.Warn("readiness check failed", "err", err)
				break
			}
		}
		if ok != ready {
			s.log.Info("readiness changed", "ready", ok)
			ready = ok
		}
		s.SetServing(ok)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Shutdown stops accepting calls and waits for in-flight ones until ctx ends,
// then forces the stop.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
}
