package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"vol-funding-engine/internal/service"
)

// Options configure the HTTP API surface.
type Options struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Logger          zerolog.Logger
}

// Server exposes the funding engine over HTTP: trigger submission, ledger
// and turbulence queries, and a websocket stream of applied snapshots.
type Server struct {
	web             *http.Server
	svc             *service.Service
	hub             *hub
	shutdownTimeout time.Duration
	logger          zerolog.Logger
}

// New builds the server and its router.
func New(opts Options) *Server {
	shutdown := opts.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 5 * time.Second
	}
	s := &Server{
		web: &http.Server{
			Addr:         opts.ListenAddr,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			IdleTimeout:  120 * time.Second,
		},
		hub:             newHub(opts.Logger),
		shutdownTimeout: shutdown,
		logger:          opts.Logger.With().Str("component", "server").Logger(),
	}
	s.web.Handler = s.router()
	return s
}

// Hub returns the snapshot broadcaster for wiring into the service.
func (s *Server) Hub() service.Broadcaster {
	return s.hub
}

// SetService attaches the trigger service. The hub must be handed to the
// service first, so construction happens in two steps.
func (s *Server) SetService(svc *service.Service) {
	s.svc = svc
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	closed := make(chan error, 1)

	go func() {
		s.logger.Info().Str("addr", s.web.Addr).Msg("listening")
		closed <- s.web.ListenAndServe()
	}()

	select {
	case err := <-closed:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.web.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("shutdown failed")
		}
		return ctx.Err()
	}
}

func (s *Server) router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/trigger", s.handleTrigger)
	mux.HandleFunc("GET /api/v1/ledger", s.handleLedgerValue)
	mux.HandleFunc("GET /api/v1/turbulence", s.handleTurbulence)
	mux.HandleFunc("GET /api/v1/state", s.handleState)
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	s.hub.addConn(conn)
	go s.hub.keep(conn)
}
