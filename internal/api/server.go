package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/marriagesignal/studio/internal/catalog"
	"github.com/marriagesignal/studio/internal/events"
	"github.com/marriagesignal/studio/internal/generation"
	"github.com/marriagesignal/studio/internal/pipeline"
	"github.com/marriagesignal/studio/internal/playback"
	"github.com/marriagesignal/studio/internal/session"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port           int
	Library        *catalog.Service
	Sessions       *session.Manager
	Repository     catalog.Repository
	Runner         *catalog.Runner
	PlaybackServer *playback.Server
	Bus            *events.Bus
	Generator      generation.Client
	FFmpeg         pipeline.FFmpeg
	Logger         *slog.Logger
	StartTime      time.Time
	Version        string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
