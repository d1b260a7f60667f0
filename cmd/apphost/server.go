package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/artpar/apphost/internal/core/domain"
	"github.com/artpar/apphost/internal/shell/api"
	"github.com/artpar/apphost/internal/shell/store"
	"github.com/artpar/apphost/internal/shell/workers"
	"github.com/artpar/apphost/internal/topology"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitDockerError     = 3
	ExitHTTPServerError = 4
	ExitTopologyError   = 5
)

// =============================================================================
// Server
// =============================================================================

// Server serves the inspection API for one topology and keeps its health
// properties current.
type Server struct {
	config        *Config
	httpServer    *http.Server
	listener      net.Listener
	topo          *topology.Topology
	store         store.Store
	healthMonitor *workers.HealthMonitor
	logger        *slog.Logger
}

// NewServer creates a server for topo. The store is opened from the
// configured DSN.
func NewServer(cfg *Config, topo *topology.Topology, logger *slog.Logger) (*Server, error) {
	s, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	prober := workers.NewHTTPProber(nil, workers.ProberConfig{
		Interval:       cfg.Health.ProbeInterval,
		RequestTimeout: cfg.Health.ProbeTimeout,
	}, logger)
	monitor := workers.NewHealthMonitor(topo, prober, workers.HealthMonitorConfig{
		Interval:      cfg.Health.MonitorInterval,
		MaxConcurrent: cfg.Health.MaxConcurrent,
	}, logger)

	handler := api.NewHandler(topo, s, logger)

	return &Server{
		config: cfg,
		httpServer: &http.Server{
			Addr:         cfg.Server.Address(),
			Handler:      handler.Routes(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		topo:          topo,
		store:         s,
		healthMonitor: monitor,
		logger:        logger.With("component", "server"),
	}, nil
}

// Addr returns the bound address once Start is listening, else the
// configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Start serves until ctx ends or the listener fails, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return &ServerError{Op: "Listen", Err: err, ExitCode: ExitHTTPServerError}
	}
	s.listener = ln

	s.healthMonitor.Start()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.Shutdown(context.Background())
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitHTTPServerError,
		}
	case <-ctx.Done():
		s.logger.Info("received shutdown signal")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.healthMonitor.Stop()

	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// openStore opens the plan store, creating the parent directory of a file
// DSN.
func openStore(cfg *Config) (store.Store, error) {
	if dir := filepath.Dir(cfg.Database.DSN); dir != "." && cfg.Database.DSN != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &ServerError{Op: "OpenStore", Err: err, ExitCode: ExitDatabaseError}
		}
	}
	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &ServerError{Op: "OpenStore", Err: err, ExitCode: ExitDatabaseError}
	}
	return s, nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during command execution.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

// exitCode maps an error returned by a command to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var sErr *ServerError
	if errors.As(err, &sErr) {
		return sErr.ExitCode
	}
	var topoErr *domain.TopologyError
	var cycle *domain.CycleError
	var conflict *domain.PortConflictError
	if errors.As(err, &topoErr) || errors.As(err, &cycle) || errors.As(err, &conflict) ||
		errors.Is(err, domain.ErrInvalidFlagSelection) {
		return ExitTopologyError
	}
	return ExitConfigError
}
