package infra

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"
)

// HTTPServer wraps http.Server to provide graceful startup and shutdown helpers.
type HTTPServer struct {
	server *http.Server
	logger *Logger
}

// NewHTTPServer creates a configured HTTP server instance. WriteTimeout
// stays zero by default so event streams are not cut off. Server errors go
// to logger.
func NewHTTPServer(cfg *Config, handler http.Handler, logger *Logger) *HTTPServer {
	logger = LoggerOrNop(logger)
	errLog := logger.With().Str("component", "http").Logger()
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ErrorLog:          log.New(errLog, "", 0),
	}
	return &HTTPServer{server: srv, logger: logger}
}

// Addr returns the configured listen address.
func (s *HTTPServer) Addr() string {
	return s.server.Addr
}

// Run listens on the configured address and serves until ctx is canceled,
// then shuts down within grace.
func (s *HTTPServer) Run(ctx context.Context, grace time.Duration) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, grace)
}

// Serve is Run on an existing listener.
func (s *HTTPServer) Serve(ctx context.Context, ln net.Listener, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("http server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Dur("grace", grace).Msg("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
