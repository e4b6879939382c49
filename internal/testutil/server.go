package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// BasePath is the directory the fake update server publishes under.
const BasePath = "/__cordova/"

// Server is a fake update server. It publishes one fixture at a time under
// BasePath with content-addressed ETags.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	files    map[string][]byte
	etags    map[string]string
	status   map[string]int
	requests []string
	gate     chan struct{}
	delay    time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

// NewServer starts a server publishing f. It is closed when the test ends.
func NewServer(t *testing.T, f Fixture) *Server {
	t.Helper()
	s := &Server{}
	s.Publish(f)
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Publish replaces the served content with f, clearing overrides.
func (s *Server) Publish(f Fixture) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.files = map[string][]byte{
		"/":              f.IndexHTML(),
		"/manifest.json": f.ManifestJSON(),
	}
	s.etags = map[string]string{}
	s.status = map[string]int{}
	for _, file := range f.Files {
		path := stripQuery(file.URLPath())
		s.files[path] = []byte(file.Content)
		s.etags[path] = `"` + file.Hash() + `"`
	}
}

// SetETag overrides the ETag for urlPath; "" sends none.
func (s *Server) SetETag(urlPath, etag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.etags[urlPath] = etag
}

// SetStatus makes urlPath answer with code and no body.
func (s *Server) SetStatus(urlPath string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[urlPath] = code
}

// SetBody overrides the body served for urlPath, keeping its ETag.
func (s *Server) SetBody(urlPath string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[urlPath] = body
}

// SetDelay delays every response.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Block holds every asset response (not the manifest) until the returned release func is called.
func (s *Server) Block() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.gate = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}

// BaseURL returns the URL the fixture is published under.
func (s *Server) BaseURL() string {
	return s.URL + BasePath
}

// Requests returns the request URIs seen so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// AssetRequests returns the request URIs other than the manifest.
func (s *Server) AssetRequests() []string {
	var out []string
	for _, uri := range s.Requests() {
		if !strings.HasSuffix(stripQuery(uri), "/manifest.json") {
			out = append(out, uri)
		}
	}
	return out
}

// ResetRequests forgets the recorded requests.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

// MaxInFlight returns the peak number of concurrent requests.
func (s *Server) MaxInFlight() int32 {
	return s.maxInFlight.Load()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.maxInFlight.Load()
		if n <= peak || s.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	path := "/" + strings.TrimPrefix(r.URL.Path, BasePath)
	s.mu.Lock()
	s.requests = append(s.requests, r.URL.RequestURI())
	body, ok := s.files[path]
	etag := s.etags[path]
	status := s.status[path]
	gate, delay := s.gate, s.delay
	s.mu.Unlock()

	if gate != nil && path != "/manifest.json" {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	switch {
	case status != 0:
		w.WriteHeader(status)
	case !ok || !strings.HasPrefix(r.URL.Path, BasePath):
		http.NotFound(w, r)
	default:
		if etag != "" {
			w.Header().Set("ETag", etag)
		}
		_, _ = w.Write(body)
	}
}

func stripQuery(urlPath string) string {
	if i := strings.IndexByte(urlPath, '?'); i >= 0 {
		return urlPath[:i]
	}
	return urlPath
}
