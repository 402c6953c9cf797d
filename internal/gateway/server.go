// Package gateway is the HTTP surface of the experience server: the core
// /api routes, the voice app under /apps/voice, SSE event streaming, and
// the server lifecycle around the session backend.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/switchboard/internal/backend"
	"github.com/haasonsaas/switchboard/internal/config"
	"github.com/haasonsaas/switchboard/internal/discovery"
	"github.com/haasonsaas/switchboard/internal/memory"
	"github.com/haasonsaas/switchboard/internal/observability"
	"github.com/haasonsaas/switchboard/internal/slackbridge"
	"github.com/haasonsaas/switchboard/internal/voice"
)

// Config wires the server's collaborators together.
type Config struct {
	Host     string
	Port     int
	Version  string
	APIKey   string // empty means open, local-only mode
	Home     string
	Settings config.Settings

	Backend backend.Backend
	Voice   *voice.Manager
	Memory  *memory.Store
	Slack   *slackbridge.Bridge // nil when slack is not configured
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Server serves the HTTP API and owns the background pieces that live as
// long as it does (slack bridge, voice janitor).
type Server struct {
	cfg       Config
	backend   backend.Backend
	voice     *voice.Manager
	memory    *memory.Store
	discovery *discovery.Scanner
	logger    *observability.Logger
	metrics   *observability.Metrics

	httpServer *http.Server
	listener   net.Listener
}

// New builds a server from its config.
func New(cfg Config) *Server {
	return &Server{
		cfg:       cfg,
		backend:   cfg.Backend,
		voice:     cfg.Voice,
		memory:    cfg.Memory,
		discovery: discovery.NewScanner(cfg.Home, cfg.Logger),
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

// Addr returns the bound listen address, valid after Run starts.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Handler builds the full route tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))

	s.mountAPIRoutes(mux)
	s.mountVoiceRoutes(mux)

	return s.logRequests(mux)
}

// Run serves HTTP until ctx is cancelled, then drains everything: HTTP
// shutdown, voice manager, backend.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if s.voice != nil {
		s.voice.StartJanitor()
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	if s.cfg.Slack != nil {
		group.Go(func() error {
			if err := s.cfg.Slack.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error(groupCtx, "slack bridge stopped", "error", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		s.shutdown()
		return nil
	})

	s.logger.Info(ctx, "server listening", "addr", listener.Addr().String(), "version", s.cfg.Version)
	return group.Wait()
}

func (s *Server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "http shutdown", "error", err)
		}
	}
	if s.voice != nil {
		s.voice.Shutdown(ctx)
	}
	s.backend.Stop(ctx)
	s.logger.Info(ctx, "server stopped")
}
