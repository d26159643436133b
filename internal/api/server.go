// Package api exposes the question answering pipeline over HTTP: a JSON
// chat endpoint, an SSE streaming variant, conversation management and
// health probes, behind a recovery/logging/CORS/rate-limit/auth
// middleware stack.
package api

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/verity0/verity/internal/log"
	"github.com/verity0/verity/internal/session"
)

// ServerConfig carries everything NewServer needs.
type ServerConfig struct {
	Logger       log.Logger
	Pipeline     Answerer       // Required
	SessionStore *session.Store // Required
	Knowledge    KnowledgeStore // Optional: nil disables search and document routes
	Pool         *pgxpool.Pool  // Optional: nil disables pool stats in /ready
	CORSOrigins  []string
	APIKey       string // Empty disables authentication
	TrustProxy   bool
	RateLimitRPS float64 // Tokens per second per IP (0 = default 1)
	RateBurst    int     // Burst per IP (0 = default 60)
	HistoryLimit int32   // Turns loaded per chat request
	IsDev        bool
}

// Server is the HTTP surface of the assistant.
type Server struct {
	mux *http.ServeMux
}

// NewServer wires routes and middleware. Health probes sit outside the
// middleware stack so probes never hit the rate limiter or auth.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if cfg.SessionStore == nil {
		return nil, errors.New("session store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ch := &chatHandler{
		pipe:         cfg.Pipeline,
		sessions:     cfg.SessionStore,
		historyLimit: session.NormalizeHistoryLimit(cfg.HistoryLimit),
		logger:       logger,
	}
	cv := &conversationHandler{store: cfg.SessionStore, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat", ch.send)
	mux.HandleFunc("POST /api/v1/chat/stream", ch.stream)

	mux.HandleFunc("POST /api/v1/conversations", cv.create)
	mux.HandleFunc("GET /api/v1/conversations", cv.list)
	mux.HandleFunc("GET /api/v1/conversations/{id}", cv.get)
	mux.HandleFunc("GET /api/v1/conversations/{id}/messages", cv.messages)
	mux.HandleFunc("PATCH /api/v1/conversations/{id}", cv.rename)
	mux.HandleFunc("DELETE /api/v1/conversations/{id}", cv.remove)

	if cfg.Knowledge != nil {
		sh := &searchHandler{knowledge: cfg.Knowledge, sessions: cfg.SessionStore, logger: logger}
		dh := &documentHandler{store: cfg.Knowledge, logger: logger}
		mux.HandleFunc("POST /api/v1/search", sh.search)
		mux.HandleFunc("GET /api/v1/search/conversations", sh.conversations)
		mux.HandleFunc("PUT /api/v1/documents/{id}", dh.upsert)
		mux.HandleFunc("DELETE /api/v1/documents/{id}", dh.remove)
	}

	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 1.0
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(rps, burst)

	// Outermost first: Recovery → RequestID → Logging → CORS → RateLimit
	// → Auth → Routes. RequestID precedes Logging so log lines carry it;
	// CORS precedes RateLimit so preflight gets proper headers.
	var handler http.Handler = mux
	handler = authMiddleware(cfg.APIKey, logger)(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.Handle("GET /ready", readiness(cfg.Pool, cfg.Knowledge, logger))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
