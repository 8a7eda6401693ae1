// Package server implements the HTTP server that exposes the knowledge
// assistant via a JSON/SSE API: login, chat turns, chat history and
// operational endpoints.
// The server is started by the `kbai serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/kbai-go/internal/agent"
	"github.com/54b3r/kbai-go/internal/auth"
	"github.com/54b3r/kbai-go/internal/logging"
	"github.com/54b3r/kbai-go/internal/store"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// New constructs a Server from the provided chat service, history store and
// config.
func New(chat ChatService, history store.ChatStore, cfg *Config) (*Server, error) {
	if chat == nil {
		return nil, fmt.Errorf("server: chat service must not be nil")
	}
	if history == nil {
		return nil, fmt.Errorf("server: history store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = 5 * time.Minute
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.Auth == nil {
		cfg.Auth = auth.ConfigFromEnv()
	}
	if err := cfg.Auth.Validate(); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		chat:    chat,
		history: history,
		authCfg: cfg.Auth,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}
	if cfg.Auth.Secret != "" {
		issuer, err := auth.NewIssuer(cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("server: %w", err)
		}
		s.issuer = issuer
	}
	if !cfg.Auth.Enabled {
		s.log.Warn("authentication disabled: every request runs as the dev user",
			slog.String("user_id", auth.DevUser.UserID),
		)
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stop

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(rl),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// routes builds the handler tree:
// requestLogger → CORS → metrics → mux → [rate limit] → [auth] → handler.
func (s *Server) routes(rl *rateLimiter) http.Handler {
	limited := func(h http.Handler) http.Handler { return rl.limit(scopeChat, h) }
	protected := func(h http.HandlerFunc) http.Handler { return s.authMiddleware(h) }

	mux := http.NewServeMux()
	mux.Handle("POST /api/auth/login", rl.limit(scopeLogin, http.HandlerFunc(s.handleLogin)))
	mux.Handle("POST /api/chat", limited(protected(s.handleChat)))
	mux.Handle("POST /api/chat/stream", limited(protected(s.handleChatStream)))
	mux.Handle("GET /api/chats", protected(s.handleListChats))
	mux.Handle("GET /api/chats/{id}/messages", protected(s.handleChatMessages))
	mux.Handle("POST /api/chats/{id}/title", limited(protected(s.handleChatTitle)))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	return requestLogger(s.log, corsMiddleware(s.cfg.CORSOrigins, s.metrics.instrument(mux)))
}

// Handler returns the fully wrapped HTTP handler. Used by tests and by
// callers that manage their own listener.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("kbai server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// writeJSON encodes v with the given status.
func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(ctx).Error("response encode error", slog.Any("error", err))
	}
}

// writeError maps err to a status code and writes a JSON error body. 5xx
// responses carry a generic message; the cause is logged instead.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logging.FromContext(ctx).Error("request failed", slog.Int("status", status), slog.Any("error", err))
		msg = http.StatusText(status)
	}
	writeJSON(ctx, w, status, errorResponse{Error: msg})
}

// writeStatus writes a JSON error body with an explicit status.
func writeStatus(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	writeJSON(ctx, w, status, errorResponse{Error: msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, agent.ErrEmptyConversation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
