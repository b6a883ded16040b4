package httpapi

import (
	"errors"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/khang26042012/NexoraX-AI/internal/fsutil"
	"github.com/khang26042012/NexoraX-AI/internal/webui"
)

// noCacheExt lists front-end sources that must always be revalidated.
var noCacheExt = map[string]string{
	".html": "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript; charset=utf-8",
}

// serveStatic serves files from http.static_dir, or the embedded page
// when no directory is configured.
func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	dir := s.config().HTTP.StaticDir
	if dir == "" {
		s.serveEmbedded(w, r)
		return
	}
	p, err := fsutil.Resolve(dir, r.URL.Path)
	switch {
	case errors.Is(err, fsutil.ErrPathTraversal):
		s.Logger.Warn("static path rejected", "path", r.URL.Path, "remote_ip", clientIP(r))
		http.NotFound(w, r)
		return
	case errors.Is(err, fsutil.ErrNotFound):
		http.NotFound(w, r)
		return
	case err != nil:
		s.Logger.Error("static lookup failed", "path", r.URL.Path, "err", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	setStaticHeaders(w, p)
	http.ServeFile(w, r, p)
}

func (s *Server) serveEmbedded(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if name == "" {
		name = fsutil.IndexFile
	}
	b, err := fs.ReadFile(webui.Static(), name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	setStaticHeaders(w, name)
	_, _ = w.Write(b)
}

func setStaticHeaders(w http.ResponseWriter, name string) {
	if ct, ok := noCacheExt[strings.ToLower(path.Ext(name))]; ok {
		w.Header().Set("content-type", ct)
		w.Header().Set("cache-control", "no-cache")
	}
}
