package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BioHazard786/deskrelay/internal/config"
	"github.com/BioHazard786/deskrelay/internal/signaling"
)

// Server is the relay's HTTP front: the websocket endpoint, the health
// check and the stats document.
type Server struct {
	hub *signaling.Hub
	log *slog.Logger
	mux *http.ServeMux
	srv *http.Server
}

// New wires a hub and its routes from cfg.
func New(cfg config.Config, logger *slog.Logger) *Server {
	hub := signaling.NewHub(signaling.HubOptions{
		PinAttemptsPerMinute: cfg.PinAttemptsPerMinute,
		PinAttemptBurst:      cfg.PinAttemptBurst,
		Logger:               logger,
	})

	s := &Server{
		hub: hub,
		log: logger,
		mux: http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /{$}", healthHandler(logger))
	s.mux.HandleFunc("GET /health", healthHandler(logger))
	s.mux.HandleFunc("GET /stats", statsHandler(hub, logger))
	s.mux.HandleFunc("GET /ws", ServeWs(hub, signaling.ClientOptions{
		PingInterval:   cfg.PingInterval,
		PingTimeout:    cfg.PingTimeout,
		MaxMessageSize: cfg.MaxMessageBytes,
		SendBuffer:     cfg.SendBuffer,
	}, cfg.AllowedOrigins, logger))

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Hub returns the dispatcher behind the websocket endpoint.
func (s *Server) Hub() *signaling.Hub {
	return s.hub
}

// Handler returns the root handler, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("signaling server listening", "addr", ln.Addr().String())
	return s.srv.Serve(ln)
}

// Run listens on the configured address and serves until ctx is done, then
// shuts down within shutdownTimeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.hub.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests and closes every websocket.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	// Hijacked websocket connections are not tracked by http.Server.
	s.hub.Close()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
