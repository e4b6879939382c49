// Package server serves the current bundle to the embedded browser view and
// exposes the hot-code-push bridge operations as HTTP endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/opmodel/hcp/internal/bundle"
	"github.com/opmodel/hcp/internal/hcp"
	"github.com/opmodel/hcp/internal/manager"
	"github.com/opmodel/hcp/internal/output"
)

const (
	bridgePrefix        = "/__hcp/"
	dontServeIndexParam = "meteor_dont_serve_index"
	contentTypeJSON     = "application/json"
	shutdownTimeout     = 5 * time.Second
)

// Bridge is the set of operations the served content can invoke.
type Bridge interface {
	CheckForUpdates(ctx context.Context) manager.CheckResult
	StartupDidComplete(done func(error))
	ApplyPending() bool
	Status() hcp.Status
}

// Server serves bundle files and the bridge endpoints.
type Server struct {
	addr string
	log  *log.Logger
	mux  *http.ServeMux

	mu       sync.RWMutex
	bridge   Bridge
	current  *bundle.Bundle
	previous *bundle.Bundle
}

// New creates a server listening on addr once started.
func New(addr string, logger *log.Logger) *Server {
	if logger == nil {
		logger = output.ComponentLogger("server")
	}
	s := &Server{addr: addr, log: logger, mux: http.NewServeMux()}

	s.mux.HandleFunc("POST "+bridgePrefix+"check", s.handleCheck)
	s.mux.HandleFunc("POST "+bridgePrefix+"startup-complete", s.handleStartupComplete)
	s.mux.HandleFunc("POST "+bridgePrefix+"reload", s.handleReload)
	s.mux.HandleFunc("GET "+bridgePrefix+"status", s.handleStatus)
	s.mux.HandleFunc("GET /", s.handleAsset)
	return s
}

// Attach connects the bridge endpoints and starts serving current.
func (s *Server) Attach(bridge Bridge, current *bundle.Bundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bridge = bridge
	s.current = current
	s.previous = nil
}

// Reload switches to b. The bundle served before stays available as a
// fallback until the next switch.
func (s *Server) Reload(b *bundle.Bundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != b {
		s.previous = s.current
	}
	s.current = b
	s.log.Info("serving bundle", "version", b.Version(), "dir", b.Dir())
}

// Serving returns the bundle currently served.
func (s *Server) Serving() *bundle.Bundle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Handler returns the HTTP handler with request logging.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		s.mux.ServeHTTP(rec, r)
		s.log.Debug("request", "method", r.Method, "path", r.URL.RequestURI(), "status", rec.status, "duration", time.Since(start))
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := newHTTPServer(s.Handler(), s.addr)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func newHTTPServer(handler http.Handler, addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

func (s *Server) lookup(r *http.Request) *bundle.Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := []string{r.URL.Path}
	if raw := r.URL.RawQuery; raw != "" {
		// asset URLs may carry a cache-busting query of their own
		keys = append([]string{r.URL.Path + "?" + stripParam(raw, dontServeIndexParam)}, keys...)
	}
	for _, b := range []*bundle.Bundle{s.current, s.previous} {
		if b == nil {
			continue
		}
		for _, key := range keys {
			if a := b.AssetForURLPath(key); a != nil {
				return a
			}
		}
	}
	return nil
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()
	if current == nil {
		http.Error(w, "no bundle attached", http.StatusServiceUnavailable)
		return
	}

	if a := s.lookup(r); a != nil {
		s.serveAsset(w, r, a)
		return
	}

	if r.URL.Query().Get(dontServeIndexParam) == "true" || path.Ext(r.URL.Path) != "" {
		http.NotFound(w, r)
		return
	}
	s.serveAsset(w, r, current.IndexPage())
}

func (s *Server) serveAsset(w http.ResponseWriter, r *http.Request, a *bundle.Asset) {
	f, err := os.Open(a.File())
	if err != nil {
		s.log.Warn("asset missing on disk", "asset", a.FilePath, "file", a.File(), "error", err)
		http.NotFound(w, r)
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	if a.Hash != "" {
		w.Header().Set("ETag", `"`+a.Hash+`"`)
	}
	if a.Cacheable {
		w.Header().Set("Cache-Control", "public, max-age=31536000")
	} else {
		w.Header().Set("Cache-Control", "no-cache")
	}
	if ct := contentType(a.FileType); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	http.ServeContent(w, r, a.FilePath, info.ModTime(), f)
}

func contentType(fileType string) string {
	switch fileType {
	case "js":
		return "application/javascript; charset=UTF-8"
	case "css":
		return "text/css; charset=UTF-8"
	case "html":
		return "text/html; charset=UTF-8"
	case "json":
		return "application/json; charset=UTF-8"
	default:
		return ""
	}
}

func (s *Server) attachedBridge(w http.ResponseWriter) Bridge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.bridge == nil {
		http.Error(w, "no bridge attached", http.StatusServiceUnavailable)
	}
	return s.bridge
}

type checkResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	Missing  int    `json:"missing,omitempty"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	bridge := s.attachedBridge(w)
	if bridge == nil {
		return
	}
	res := bridge.CheckForUpdates(r.Context())
	writeJSON(w, http.StatusOK, checkResponse{
		Status:   res.Status.String(),
		Version:  res.Version,
		Accepted: res.Decision.Accept,
		Reason:   res.Decision.Reason,
		Missing:  res.Missing,
	})
}

func (s *Server) handleStartupComplete(w http.ResponseWriter, _ *http.Request) {
	bridge := s.attachedBridge(w)
	if bridge == nil {
		return
	}
	bridge.StartupDidComplete(nil)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleReload(w http.ResponseWriter, _ *http.Request) {
	bridge := s.attachedBridge(w)
	if bridge == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reloaded": bridge.ApplyPending()})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	bridge := s.attachedBridge(w)
	if bridge == nil {
		return
	}
	writeJSON(w, http.StatusOK, bridge.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// stripParam removes one query parameter from a raw query, keeping the
// order of the others.
func stripParam(rawQuery, name string) string {
	parts := strings.Split(rawQuery, "&")
	kept := parts[:0]
	for _, p := range parts {
		if p == name || strings.HasPrefix(p, name+"=") {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, "&")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
