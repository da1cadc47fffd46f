package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// Server serves the metrics endpoint.
type Server struct {
	cfg     Config
	metrics *Metrics
	logger  *slog.Logger
}

// NewServer creates a Server. Config defaults are applied automatically.
func NewServer(cfg Config, metrics *Metrics, logger *slog.Logger) *Server {
	cfg.ApplyDefaults()
	return &Server{
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With("component", "telemetry"),
	}
}

// Start listens on the configured address and serves until ctx is
// cancelled. It returns ctx.Err() after a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("telemetry: listen %s: %w", s.cfg.ListenAddress, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("GET "+s.cfg.Path, s.metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	s.logger.Info("metrics endpoint started", "address", ln.Addr().String(), "path", s.cfg.Path)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", "error", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("metrics server shutdown", "error", err)
	}
	wg.Wait()

	s.logger.Info("metrics endpoint stopped")
	return ctx.Err()
}
