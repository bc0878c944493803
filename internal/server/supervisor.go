// Package server keeps the HTTP listener running for the life of the process.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/obiente/translate/relay/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

// Supervisor serves Handler on Addr and restarts the listener after any
// failure until its context is cancelled.
type Supervisor struct {
	Addr         string
	Handler      http.Handler
	RestartDelay time.Duration
	Metrics      *metrics.Metrics

	// Listen defaults to net.Listen.
	Listen func(network, addr string) (net.Listener, error)
}

// Run blocks until ctx is cancelled. It only returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	listen := s.Listen
	if listen == nil {
		listen = net.Listen
	}
	for {
		err := s.serveOnce(ctx, listen)
		if ctx.Err() != nil {
			log.Info().Msg("server stopped")
			return nil
		}
		log.Error().Err(err).Dur("restart_in", s.RestartDelay).Msg("server failed, restarting")
		if s.Metrics != nil {
			s.Metrics.ListenerRestarts.Inc()
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("server stopped")
			return nil
		case <-time.After(s.RestartDelay):
		}
	}
}

func (s *Supervisor) serveOnce(ctx context.Context, listen func(string, string) (net.Listener, error)) error {
	ln, err := listen("tcp", s.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("relay server listening")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = errors.New("listener closed unexpectedly")
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown incomplete")
			srv.Close()
		}
		<-errCh
		return ctx.Err()
	}
}
