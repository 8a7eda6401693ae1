package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/kbai-go/internal/agent"
	"github.com/54b3r/kbai-go/internal/auth"
	"github.com/54b3r/kbai-go/internal/store"
	"github.com/54b3r/kbai-go/internal/tools"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8000).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds a single chat turn including every model and tool
	// call. Defaults to 5 minutes.
	ChatTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on chat and
	// login endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// Auth controls JWT verification. If nil, auth.ConfigFromEnv is used.
	Auth *auth.Config
	// CORSOrigins lists the allowed browser origins. "*" allows any origin.
	// Empty disables CORS headers.
	CORSOrigins []string
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// ChatService runs chat turns. *agent.Orchestrator satisfies it; tests
// inject a fake.
type ChatService interface {
	Execute(ctx context.Context, msgs []agent.Message) (*agent.Result, error)
	ExecuteStream(ctx context.Context, msgs []agent.Message, sink agent.Sink) (*agent.Result, error)
	GenerateTitle(ctx context.Context, msgs []agent.Message) (string, error)
}

// Server is the HTTP server that exposes the knowledge assistant.
type Server struct {
	// chat runs conversation turns.
	chat ChatService
	// history persists users, chats and messages.
	history store.ChatStore
	// authCfg holds the resolved authentication settings.
	authCfg *auth.Config
	// issuer signs and verifies tokens; nil when auth is disabled and no
	// secret is configured.
	issuer *auth.Issuer
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// loginRequest is the JSON body for POST /api/auth/login.
type loginRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// loginResponse is the JSON response for POST /api/auth/login.
type loginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// chatRequest is the JSON body for POST /api/chat and /api/chat/stream.
type chatRequest struct {
	// ChatID continues an existing chat. Empty starts a new one.
	ChatID string `json:"chat_id,omitempty"`
	// Message is the employee's question.
	Message string `json:"message"`
}

// chatResponse is the JSON response for POST /api/chat.
type chatResponse struct {
	ChatID    string           `json:"chat_id"`
	MessageID string           `json:"message_id"`
	Answer    string           `json:"answer"`
	ToolCalls []agent.ToolCall `json:"tool_calls"`
	Sources   []tools.Source   `json:"sources"`
}

// streamResult is the payload of the terminal "result" SSE event.
type streamResult struct {
	ChatID    string           `json:"chat_id"`
	MessageID string           `json:"message_id"`
	ToolCalls []agent.ToolCall `json:"tool_calls"`
	Sources   []tools.Source   `json:"sources"`
}

// titleResponse is the JSON response for POST /api/chats/{id}/title.
type titleResponse struct {
	ChatID string `json:"chat_id"`
	Title  string `json:"title"`
}

// errorResponse is the JSON body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}
