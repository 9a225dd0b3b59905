package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	xlog "github.com/ivlev/tacticboard/internal/log"
)

// Server exposes the default registry on /metrics.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger zerolog.Logger
}

// Handler returns the scrape handler for the default registry.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Serve starts listening on addr and serves scrapes in the background.
// The listener is bound before Serve returns, so a bad address fails here.
func Serve(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	s := &Server{
		srv: &http.Server{
			Handler:           Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:     ln,
		logger: xlog.WithComponent("metrics"),
	}
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("metrics server listening")
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return s, nil
}

// Addr is the bound listen address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Shutdown stops the server, waiting for in-flight scrapes until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
