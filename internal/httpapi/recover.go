package httpapi

import (
	"net/http"
	"runtime/debug"
)

// withRecover guards handlers against panics and returns a 500 response.
func (s *Server) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.Logger.Error("panic", "panic", v, "path", r.URL.Path, "request_id", requestID(r.Context()), "stack", string(debug.Stack()))
				writeError(w, http.StatusInternalServerError, "SYSTEM_ERROR", "server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
