package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/khang26042012/NexoraX-AI/internal/authstore"
	"github.com/khang26042012/NexoraX-AI/internal/history"
	"github.com/khang26042012/NexoraX-AI/internal/logging"
	"github.com/khang26042012/NexoraX-AI/internal/proxy"
)

const (
	defaultLogLines = 40
	maxLogLines     = 1000
)

// withAdmin admits allowlisted addresses (loopback when the list is
// empty) and, when one is configured, requires the admin token.
func (s *Server) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := s.config()
		if !isAdminAllowedByIP(c.Admin.AllowCIDRs, r) {
			s.Logger.Warn("admin request denied", "remote_ip", clientIP(r), "path", r.URL.Path)
			writeError(w, http.StatusForbidden, "FORBIDDEN", "admin access is not allowed from this address")
			return
		}
		if c.Admin.Token != "" && !tokenMatches(c.Admin.Token, adminToken(r)) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "admin token required")
			return
		}
		next(w, r)
	}
}

func adminToken(r *http.Request) string {
	if tok, ok := bearerToken(r); ok {
		return tok
	}
	return strings.TrimSpace(r.Header.Get("X-Admin-Token"))
}

func tokenMatches(want, got string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// Stats is the admin dashboard summary.
type Stats struct {
	authstore.Stats
	TotalCalls    int    `json:"total_ai_calls"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Version       string `json:"version,omitempty"`
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	st := Stats{
		Stats:         s.Store.Stats(),
		UptimeSeconds: int64(s.Store.Now().Sub(s.started).Seconds()),
		Version:       s.Version,
	}
	if s.History != nil {
		u, err := s.History.Usage()
		if err != nil {
			s.Logger.Warn("history read failed", "err", err)
		}
		st.TotalCalls = u.TotalCalls
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": st})
}

func (s *Server) handleAdminUsage(w http.ResponseWriter, r *http.Request) {
	var u history.Usage
	if s.History != nil {
		var err error
		if u, err = s.History.Usage(); err != nil {
			s.Logger.Error("history read failed", "err", err)
			writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", "cannot read history")
			return
		}
	}
	if u.ModelsStats == nil {
		u.ModelsStats = map[string]int{}
	}
	if u.UsersStats == nil {
		u.UsersStats = map[string]int{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "usage": u})
}

func (s *Server) handleAdminLogs(w http.ResponseWriter, r *http.Request) {
	n := defaultLogLines
	if v := r.URL.Query().Get("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l <= 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer")
			return
		}
		n = min(l, maxLogLines)
	}
	lines := []string{}
	if path := s.config().Log.File; path != "" {
		var err error
		if lines, err = logging.Tail(path, n); err != nil {
			s.Logger.Error("log tail failed", "err", err)
			writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", "cannot read log file")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "logs": lines})
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "users": s.Store.UserInfos()})
}

func (s *Server) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("username")
	if err := s.Store.DeleteUser(name); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.Logger.Info("admin deleted user", "user", name, "remote_ip", clientIP(r))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAdminClearRateLimit(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("username")
	if !s.Store.ClearRateLimit(name) {
		writeError(w, http.StatusNotFound, authstore.CodeNotFound, "no rate limit entry for "+name)
		return
	}
	s.Logger.Info("admin cleared rate limit", "user", name, "remote_ip", clientIP(r))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAdminConfig(w http.ResponseWriter, r *http.Request) {
	c := s.config()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"config": map[string]any{
			"api_keys":        s.Proxy.Keys().Masked(),
			"gemini_model":    s.Proxy.GeminiModel(),
			"allowed_origins": c.HTTP.AllowedOrigins,
			"session_ttl":     c.Auth.SessionTTL.String(),
			"remember_ttl":    c.Auth.RememberTTL.String(),
			"max_attempts":    c.Auth.MaxAttempts,
			"attempt_window":  c.Auth.AttemptWindow.String(),
		},
	})
}

func (s *Server) handleAdminConfigUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Service string `json:"service"`
		APIKey  string `json:"api_key"`
	}
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	svc := strings.ToLower(strings.TrimSpace(req.Service))
	if strings.TrimSpace(req.APIKey) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "api_key is required")
		return
	}
	if !s.Proxy.Keys().Set(svc, req.APIKey) {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR",
			"service must be one of "+strings.Join(proxy.Services, ", "))
		return
	}
	s.Logger.Info("admin updated api key", "service", svc, "remote_ip", clientIP(r))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": svc + " API key updated",
	})
}
