package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/khang26042012/NexoraX-AI/internal/history"
	"github.com/khang26042012/NexoraX-AI/internal/proxy"
)

// record appends one history entry for a proxied call. Failures to
// write history never fail the request.
func (s *Server) record(r *http.Request, model string, status int, start time.Time) {
	if s.History == nil {
		return
	}
	user, ok := UsernameFromContext(r.Context())
	if !ok {
		user = history.Anonymous
	}
	_, err := s.History.Append(history.Record{
		Username:   user,
		Model:      model,
		Endpoint:   r.URL.Path,
		Status:     status,
		DurationMS: time.Since(start).Milliseconds(),
	})
	if err != nil {
		s.Logger.Warn("history append failed", "err", err)
	}
}

// writeProxyError maps provider errors to status codes and returns the
// status written.
func (s *Server) writeProxyError(w http.ResponseWriter, r *http.Request, err error) int {
	var (
		ke *proxy.KeyError
		ue *proxy.UpstreamError
		ce *proxy.ConnError
	)
	switch {
	case errors.As(err, &ke):
		s.Logger.Warn("provider key missing", "service", ke.Service)
		writeError(w, http.StatusInternalServerError, "API_KEY_MISSING", ke.Service+" API key is not configured")
		return http.StatusInternalServerError
	case errors.As(err, &ue):
		s.Logger.Warn("upstream error", "service", ue.Service, "status", ue.Status, "path", r.URL.Path)
		status := ue.Status
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		writeError(w, status, "UPSTREAM_ERROR", ue.Service+" API error: "+ue.Body)
		return status
	case errors.As(err, &ce):
		s.Logger.Error("upstream connection failed", "service", ce.Service, "err", ce.Err)
		writeError(w, http.StatusBadGateway, "CONNECTION_ERROR", "cannot connect to "+ce.Service)
		return http.StatusBadGateway
	default:
		s.Logger.Error("proxy failure", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusServiceUnavailable, "SYSTEM_ERROR", "system error: "+err.Error())
		return http.StatusServiceUnavailable
	}
}

func (s *Server) handleGemini(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req struct {
		Model   string          `json:"model"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON")
		return
	}
	model := req.Model
	if model == "" {
		model = s.Proxy.GeminiModel()
	}
	out, err := s.Proxy.Generate(r.Context(), model, req.Payload)
	if err != nil {
		s.record(r, model, s.writeProxyError(w, r, err), start)
		return
	}
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
	s.record(r, model, http.StatusOK, start)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req struct {
		Query string `json:"query"`
		Num   int    `json:"num"`
	}
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON")
		return
	}
	q := strings.TrimSpace(req.Query)
	if q == "" {
		writeError(w, http.StatusBadRequest, "MISSING_QUERY", "query is required")
		return
	}
	out, err := s.Proxy.Search(r.Context(), q, req.Num)
	if err != nil {
		s.record(r, proxy.SerpAPI, s.writeProxyError(w, r, err), start)
		return
	}
	writeJSON(w, http.StatusOK, out)
	s.record(r, proxy.SerpAPI, http.StatusOK, start)
}

func (s *Server) handleSearchWithAI(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req struct {
		Query string `json:"query"`
	}
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON")
		return
	}
	q := strings.TrimSpace(req.Query)
	if q == "" {
		writeError(w, http.StatusBadRequest, "MISSING_QUERY", "query is required")
		return
	}
	out, err := s.Proxy.SearchWithAI(r.Context(), q)
	if err != nil {
		s.record(r, "nexorax2-search", s.writeProxyError(w, r, err), start)
		return
	}
	writeJSON(w, http.StatusOK, out)
	s.record(r, out.Model, http.StatusOK, start)
}

// chatHandler serves an LLM7 endpoint. An empty model lets the caller
// pick one in the request body.
func (s *Server) chatHandler(model string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var req struct {
			Message string `json:"message"`
			Model   string `json:"model"`
		}
		if err := s.decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON")
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			writeError(w, http.StatusBadRequest, "MISSING_MESSAGE", "message must not be empty")
			return
		}
		m := model
		if m == "" {
			m = req.Model
		}
		out, err := s.Proxy.Chat(r.Context(), m, req.Message)
		if err != nil {
			s.record(r, m, s.writeProxyError(w, r, err), start)
			return
		}
		writeJSON(w, http.StatusOK, out)
		s.record(r, out.Model, http.StatusOK, start)
	}
}
