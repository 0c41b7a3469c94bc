package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type ServeOptions struct {
	HTTPAddr string
	GRPCAddr string // empty disables gRPC health
	// HealthEvery is how often job health is republished.
	HealthEvery time.Duration
}

// Serve runs the HTTP status server and the gRPC health server until ctx
// ends, then shuts both down.
func (s *Server) Serve(ctx context.Context, opts ServeOptions) error {
	if opts.HealthEvery <= 0 {
		opts.HealthEvery = 15 * time.Second
	}
	g, gctx := errgroup.WithContext(ctx)

	httpSrv := &http.Server{
		Addr:              opts.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		s.Logger.Info("http listening", "addr", opts.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	var grpcSrv *grpc.Server
	if opts.GRPCAddr != "" {
		l, err := net.Listen("tcp", opts.GRPCAddr)
		if err != nil {
			_ = httpSrv.Close()
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, s.health)
		g.Go(func() error {
			s.Logger.Info("grpc listening", "addr", opts.GRPCAddr)
			if err := grpcSrv.Serve(l); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc serve: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		t := time.NewTicker(opts.HealthEvery)
		defer t.Stop()
		for {
			s.SyncHealth()
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if grpcSrv != nil {
			s.health.Shutdown()
			grpcSrv.GracefulStop()
		}
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
