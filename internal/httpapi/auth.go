package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/khang26042012/NexoraX-AI/internal/authstore"
)

type ctxKey string

const ctxUsername ctxKey = "username"

// UsernameFromContext returns the user attached by withSession.
func UsernameFromContext(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(ctxUsername).(string)
	return u, ok && u != ""
}

// withSession attaches the session's username to the request context
// when a valid session id is present. Requests without one pass through.
func (s *Server) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, src := sessionID(r)
		if src == fromNone {
			next(w, r)
			return
		}
		user, ok := s.Store.ValidateSession(id)
		if !ok {
			next(w, r)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxUsername, user)))
	}
}

type authResponse struct {
	Success    bool   `json:"success"`
	Username   string `json:"username"`
	RememberMe bool   `json:"remember_me"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req authstore.Credentials
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	info, err := s.Store.Signup(req)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.Logger.Info("signup", "user", info.Username, "remote_ip", clientIP(r))
	s.setSessionCookie(w, r, info)
	writeJSON(w, http.StatusOK, authResponse{Success: true, Username: info.Username, RememberMe: info.RememberMe})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req authstore.Credentials
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	info, err := s.Store.Login(req)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.setSessionCookie(w, r, info)
	writeJSON(w, http.StatusOK, authResponse{Success: true, Username: info.Username, RememberMe: info.RememberMe})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, ok := readSessionCookie(r)
	if !ok {
		var req struct {
			SessionID string `json:"session_id"`
		}
		// A missing or malformed body just means no id was supplied.
		_ = s.decodeJSON(w, r, &req)
		id = req.SessionID
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "MISSING_SESSION_ID", "session id is required")
		return
	}
	if s.Store.Logout(id) {
		s.Logger.Debug("logout", "remote_ip", clientIP(r))
	}
	s.clearSessionCookie(w, r)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type sessionStatus struct {
	Valid     bool    `json:"valid"`
	Username  *string `json:"username"`
	Rotated   bool    `json:"rotated"`
	SessionID string  `json:"session_id,omitempty"`
}

func (s *Server) handleCheckSession(w http.ResponseWriter, r *http.Request) {
	id, src := sessionID(r)
	if src == fromNone {
		writeJSON(w, http.StatusOK, sessionStatus{})
		return
	}
	info, ok := s.Store.CheckSession(id)
	if !ok {
		if src == fromCookie {
			s.clearSessionCookie(w, r)
		}
		writeJSON(w, http.StatusOK, sessionStatus{})
		return
	}
	out := sessionStatus{Valid: true, Username: &info.Username, Rotated: info.Rotated}
	if info.Rotated {
		s.setSessionCookie(w, r, info)
		// Header and query clients cannot read the cookie.
		if src != fromCookie {
			out.SessionID = info.ID
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// writeStoreError maps an authstore error onto the JSON error body.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var e *authstore.Error
	if !errors.As(err, &e) {
		s.Logger.Error("unexpected store error", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "server error")
		return
	}
	switch e.Kind {
	case authstore.KindValidation, authstore.KindConflict:
		writeError(w, http.StatusBadRequest, e.Code, e.Message)
	case authstore.KindAuth:
		body := map[string]any{
			"success":            false,
			"error":              e.Message,
			"code":               e.Code,
			"remaining_attempts": max(e.Remaining, 0),
		}
		if e.Wait > 0 {
			body["retry_after"] = e.WaitSeconds()
		}
		writeJSON(w, http.StatusUnauthorized, body)
	case authstore.KindRateLimit:
		w.Header().Set("Retry-After", strconv.Itoa(e.WaitSeconds()))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"success":     false,
			"error":       e.Message,
			"code":        e.Code,
			"retry_after": e.WaitSeconds(),
		})
	case authstore.KindNotFound:
		writeError(w, http.StatusNotFound, e.Code, e.Message)
	default:
		s.Logger.Error("storage failure", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, e.Code, e.Message)
	}
}
