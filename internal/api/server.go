package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/ndmikkelsen/btc-algo-trader/internal/config"
)

const shutdownTimeout = 10 * time.Second

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	httpAddr string
	grpcAddr string
	http     *http.Server
	grpc     *grpc.Server
	log      *slog.Logger

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewServer creates a Server for svc listening on the addresses in cfg.
func NewServer(cfg config.Server, svc *Service, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	gs := grpc.NewServer()
	RegisterBacktestServer(gs, NewBacktestServer(svc))

	return &Server{
		httpAddr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		grpcAddr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.GRPCPort)),
		http: &http.Server{
			Handler:           svc.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		grpc:    gs,
		log:     log.With("component", "server"),
		stopped: make(chan struct{}),
	}
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled, Shutdown is called or a listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpAddr, err)
	}
	grpcLn, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		httpLn.Close()
		return fmt.Errorf("listening on %s: %w", s.grpcAddr, err)
	}
	return s.Serve(ctx, httpLn, grpcLn)
}

// Serve serves on pre-opened listeners. It takes ownership of both.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	s.log.Info("serving", "http", httpLn.Addr().String(), "grpc", grpcLn.Addr().String())

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := s.http.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		if err := s.grpc.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		select {
		case <-egCtx.Done():
		case <-s.stopped:
			return nil
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

// Shutdown performs a graceful shutdown of the HTTP and gRPC servers. If
// ctx expires first, remaining gRPC calls are cut off.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopped) })

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	err := s.http.Shutdown(ctx)
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
	s.log.Info("server stopped")
	if err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}
