package server

import (
	"DeepReplay/internal/coordinator"
	"DeepReplay/internal/observability"
	"DeepReplay/internal/orderbook"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Coordinator is the read-only part of the coordinator the diagnostics
// surface uses.
type Coordinator interface {
	StartupCheck() (*coordinator.StartupReport, error)
	Venues(ctx context.Context) ([]coordinator.VenueInfo, error)
	Reserves(ctx context.Context) ([]coordinator.ReserveBalance, error)
}

// BookSource serves the global materialized books.
type BookSource interface {
	GlobalBook(venue string) (*orderbook.Book, bool)
}

// Deps holds everything the diagnostics handlers read from.
type Deps struct {
	Coordinator   Coordinator
	Books         BookSource
	HealthChecker *observability.HealthChecker
}

// Server wraps the gRPC health server and the HTTP diagnostics gateway.
type Server struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	grpcAddr     string
	httpAddr     string
	deps         *Deps
}

func New(grpcAddr, httpAddr string, deps *Deps) *Server {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &Server{
		grpcServer:   grpcServer,
		healthServer: healthServer,
		grpcAddr:     grpcAddr,
		httpAddr:     httpAddr,
		deps:         deps,
	}
}

// SetServing flips the gRPC health status and the HTTP readiness check
// together.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", st)
	if s.deps.HealthChecker != nil {
		s.deps.HealthChecker.SetReady(serving)
	}
}

// Run serves gRPC and HTTP until ctx is cancelled or either fails.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.StartGRPC(ctx) })
	g.Go(func() error { return s.StartHTTP(ctx) })
	return g.Wait()
}

// StartGRPC starts the gRPC server (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: gRPC server shutting down...")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	log.Printf("INFO: gRPC server listening on %s", s.grpcAddr)
	return s.grpcServer.Serve(lis)
}

// StartHTTP starts the HTTP diagnostics gateway (blocking).
func (s *Server) StartHTTP(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP gateway shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP gateway listening on %s", s.httpAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeMetrics exposes gatherer on addr/metrics until ctx is cancelled.
func ServeMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler builds the diagnostics mux. Routes:
//
//	GET /healthz
//	GET /readyz
//	GET /v1/startup-check
//	GET /v1/venues
//	GET /v1/venues/{venue}/book
//	GET /v1/reserves
func (s *Server) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux()
	routes := []struct {
		path string
		h    runtime.HandlerFunc
	}{
		{"/healthz", s.handleLiveness},
		{"/readyz", s.handleReadiness},
		{"/v1/startup-check", s.handleStartupCheck},
		{"/v1/venues", s.handleVenues},
		{"/v1/venues/{venue}/book", s.handleBook},
		{"/v1/reserves", s.handleReserves},
	}
	for _, r := range routes {
		if err := mux.HandlePath(http.MethodGet, r.path, r.h); err != nil {
			return nil, fmt.Errorf("register %s: %w", r.path, err)
		}
	}
	return mux, nil
}
