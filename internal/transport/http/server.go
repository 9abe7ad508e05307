package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	readHeaderTimeout = 5 * time.Second
	idleTimeout       = 60 * time.Second
)

// Server runs the status router on a listener.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *slog.Logger
	errc   chan error
}

// NewServer listens on addr. Port 0 picks a free port, see Addr.
func NewServer(addr string, handler http.Handler, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return &Server{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
			IdleTimeout:       idleTimeout,
		},
		ln:     ln,
		logger: logger.With(slog.String("component", "status_server")),
		errc:   make(chan error, 1),
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Start serves in the background.
func (s *Server) Start() {
	s.logger.Info("status server listening", slog.String("address", s.Addr()))
	go func() {
		if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server error", slog.String("error", err.Error()))
			s.errc <- err
		}
		close(s.errc)
	}()
}

// Errors reports a serve failure; it is closed when the server stops.
func (s *Server) Errors() <-chan error {
	return s.errc
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	// Closes the listener when Start was never called.
	_ = s.ln.Close()
	if err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	s.logger.Info("status server stopped")
	return nil
}
