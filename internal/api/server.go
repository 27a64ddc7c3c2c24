// Package api exposes the assistant over HTTP: the question endpoint, the
// script generator, and the liveness probe, behind the shared middleware
// stack.
package api

import (
	"errors"
	"log/slog"
	"net/http"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger   *slog.Logger
	Pipeline Answerer         // Required
	Scripts  ScriptComposer   // Required
	Queries  QueryLogger      // Optional: nil disables query logging
	Activity ActivityRecorder // Optional: nil disables background-work yielding

	AuthSecret  []byte   // Optional: non-empty enables bearer auth on the API routes
	CORSOrigins []string // Allowed origins for CORS
	TrustProxy  bool     // Trust X-Real-IP/X-Forwarded-For headers (behind reverse proxy)
	RateBurst   int      // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("answer pipeline is required")
	}
	if cfg.Scripts == nil {
		return nil, errors.New("script composer is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ah := &askHandler{
		pipeline: cfg.Pipeline,
		queries:  cfg.Queries,
		activity: cfg.Activity,
		logger:   logger,
	}
	sh := &scriptHandler{
		composer: cfg.Scripts,
		activity: cfg.Activity,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /preguntar", ah.send)
	mux.HandleFunc("POST /generar-script", sh.send)

	// JSON fallbacks: the method-less patterns catch wrong-method requests
	// before the stdlib's plain-text 405, and "/" catches unknown paths, so
	// every response on the API surface is a JSON object.
	mux.HandleFunc("/preguntar", methodNotAllowed)
	mux.HandleFunc("/generar-script", methodNotAllowed)
	mux.HandleFunc("/", notFound)

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Auth → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	if len(cfg.AuthSecret) > 0 {
		handler = authMiddleware(cfg.AuthSecret, logger)(handler)
	}
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Top-level mux keeps health probes outside the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.HandleFunc("GET /{$}", health)
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Allow", http.MethodPost)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
