// Package httpapi exposes the NexoraX JSON API and static front-end.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/khang26042012/NexoraX-AI/internal/authstore"
	"github.com/khang26042012/NexoraX-AI/internal/config"
	"github.com/khang26042012/NexoraX-AI/internal/history"
	"github.com/khang26042012/NexoraX-AI/internal/proxy"
)

// Server holds the collaborators shared by every handler. Fields must be
// set before the first call to Handler.
type Server struct {
	Logger  *slog.Logger
	Store   *authstore.Store
	Proxy   *proxy.Client
	History *history.Log
	Version string

	mu      sync.RWMutex
	cfg     config.Config
	started time.Time

	once    sync.Once
	handler http.Handler
	limiter *ipLimiter
}

// New returns a Server using c for cookie, CORS, admin and throttling
// settings.
func New(c config.Config, store *authstore.Store, px *proxy.Client, hist *history.Log, lg *slog.Logger) *Server {
	if lg == nil {
		lg = slog.New(slog.DiscardHandler)
	}
	return &Server{Logger: lg, Store: store, Proxy: px, History: hist, cfg: c, started: store.Now()}
}

// SetConfig swaps the settings used by subsequent requests. The
// throttle rate is fixed at the first call to Handler.
func (s *Server) SetConfig(c config.Config) {
	s.mu.Lock()
	s.cfg = c
	s.mu.Unlock()
}

func (s *Server) config() config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Handler builds the routed handler once and returns it.
func (s *Server) Handler() http.Handler {
	s.once.Do(func() {
		c := s.config()
		if s.started.IsZero() {
			s.started = s.Store.Now()
		}
		s.limiter = newIPLimiter(c.HTTP.RequestsPerSecond, c.HTTP.Burst, 10*time.Minute)
		s.handler = s.routes()
	})
	return s.handler
}

// Close stops background work started by Handler.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /api/auth/signup", s.throttle(http.HandlerFunc(s.handleSignup)))
	mux.Handle("POST /api/auth/login", s.throttle(http.HandlerFunc(s.handleLogin)))
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/check-session", s.handleCheckSession)

	proxied := func(h http.HandlerFunc) http.Handler {
		return s.throttle(s.withSession(h))
	}
	mux.Handle("POST /api/gemini", proxied(s.handleGemini))
	mux.Handle("POST /api/search", proxied(s.handleSearch))
	mux.Handle("POST /api/serpapi", proxied(s.handleSearch))
	mux.Handle("POST /api/duckduckgo", proxied(s.handleSearch))
	mux.Handle("POST /api/search-with-ai", proxied(s.handleSearchWithAI))
	mux.Handle("POST /api/llm7/gpt-5-mini", proxied(s.chatHandler("gpt-5-mini")))
	mux.Handle("POST /api/llm7/gemini-search", proxied(s.chatHandler("gemini-search")))
	mux.Handle("POST /api/llm7/chat", proxied(s.chatHandler("")))

	mux.HandleFunc("GET /api/admin/stats", s.withAdmin(s.handleAdminStats))
	mux.HandleFunc("GET /api/admin/usage", s.withAdmin(s.handleAdminUsage))
	mux.HandleFunc("GET /api/admin/logs", s.withAdmin(s.handleAdminLogs))
	mux.HandleFunc("GET /api/admin/users", s.withAdmin(s.handleAdminUsers))
	mux.HandleFunc("DELETE /api/admin/users/{username}", s.withAdmin(s.handleAdminDeleteUser))
	mux.HandleFunc("DELETE /api/admin/ratelimits/{username}", s.withAdmin(s.handleAdminClearRateLimit))
	mux.HandleFunc("GET /api/admin/config", s.withAdmin(s.handleAdminConfig))
	mux.HandleFunc("POST /api/admin/config/update", s.withAdmin(s.handleAdminConfigUpdate))

	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "API endpoint does not exist")
	})
	mux.HandleFunc("/", s.serveStatic)

	var h http.Handler = mux
	h = s.withCORS(h)
	h = withSecurityHeaders(h)
	h = s.withRecover(h)
	h = s.withRequestLog(h)
	return h
}

// errorBody is the JSON shape of every API error.
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

var errEmptyBody = errors.New("request body is empty")

// decodeJSON reads a size-limited JSON body into v.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	limit := int64(s.config().HTTP.MaxBodyKB) << 10
	if limit <= 0 {
		limit = 10 << 20
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(v)
	if errors.Is(err, io.EOF) {
		return errEmptyBody
	}
	return err
}

func withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-content-type-options", "nosniff")
		w.Header().Set("x-frame-options", "SAMEORIGIN")
		w.Header().Set("referrer-policy", "strict-origin-when-cross-origin")
		if r.TLS != nil {
			w.Header().Set("strict-transport-security", "max-age=31536000")
		}
		next.ServeHTTP(w, r)
	})
}
