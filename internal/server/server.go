package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/kehao95/hook-pulse/internal/config"
	"github.com/kehao95/hook-pulse/internal/metrics"
	"github.com/kehao95/hook-pulse/internal/signature"
	"github.com/kehao95/hook-pulse/internal/webhook"
)

const shutdownTimeout = 5 * time.Second

// Server wires the webhook endpoint, the subscriber hub and the metrics
// endpoint onto one listener.
type Server struct {
	config   config.Config
	hub      *Hub
	webhook  *webhook.Handler
	metrics  *metrics.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New validates cfg and builds the server. The signing secret is copied into
// the verifier here and not read again.
func New(cfg config.Config, logger *slog.Logger, opts ...signature.Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := metrics.New()
	hub := NewHub(m, logger.With("component", "hub"))
	verifier := signature.NewVerifier([]byte(cfg.Webhook.Secret),
		append([]signature.Option{signature.WithTolerance(cfg.Webhook.Tolerance)}, opts...)...)

	return &Server{
		config:  cfg,
		hub:     hub,
		webhook: webhook.New(webhook.ConfigFrom(cfg.Webhook), verifier, hub, m, logger.With("component", "webhook")),
		metrics: m,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// Run builds a Server from cfg and serves until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	s, err := New(cfg, logger)
	if err != nil {
		return err
	}
	return s.Start(ctx)
}

// Hub exposes the dispatcher so callers can run it alongside Handler.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Method(http.MethodPost, s.config.Webhook.Path, s.webhook)
	r.Get("/ws", s.handleWS)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Listen.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "port", s.config.Listen.Port, "path", s.config.Webhook.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := newClient(s.hub, conn)
	if !s.hub.join(client) {
		_ = conn.Close()
		return
	}
	s.logger.Info("ws connected", "remote", client.remote)

	go client.writePump()
	client.readPump()

	s.logger.Info("ws disconnected", "remote", client.remote)
}

// loggingMiddleware logs one line per request without bodies.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}
