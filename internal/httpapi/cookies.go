package httpapi

import (
	"net/http"
	"strings"

	"github.com/khang26042012/NexoraX-AI/internal/authstore"
	"github.com/khang26042012/NexoraX-AI/internal/config"
)

const sessionCookie = "session_id"

// secureCookie decides the Secure attribute for responses to r.
func (s *Server) secureCookie(r *http.Request) bool {
	c := s.config()
	switch c.HTTP.SecureCookies {
	case config.SecureAlways:
		return true
	case config.SecureNever:
		return false
	}
	if c.SecureCookie() || r.TLS != nil {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https")
}

func (s *Server) setSessionCookie(w http.ResponseWriter, r *http.Request, info authstore.SessionInfo) {
	ttl := s.Store.Policy().TTL(info.RememberMe)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    info.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookie(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookie(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func readSessionCookie(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return "", false
	}
	if c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func bearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(h[7:])
	return tok, tok != ""
}

// sessionSource names where a session id came from.
type sessionSource int

const (
	fromNone sessionSource = iota
	fromCookie
	fromBearer
	fromQuery
)

// sessionID looks for a session id in the cookie, then the bearer
// header, then the session_id query parameter.
func sessionID(r *http.Request) (string, sessionSource) {
	if id, ok := readSessionCookie(r); ok {
		return id, fromCookie
	}
	if id, ok := bearerToken(r); ok {
		return id, fromBearer
	}
	if id := strings.TrimSpace(r.URL.Query().Get("session_id")); id != "" {
		return id, fromQuery
	}
	return "", fromNone
}
