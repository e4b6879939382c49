package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opmodel/hcp/internal/bundle"
	"github.com/opmodel/hcp/internal/hcp"
	"github.com/opmodel/hcp/internal/manager"
	"github.com/opmodel/hcp/internal/testutil"
)

var (
	libJS  = testutil.File{Path: "lib.js", Content: "lib", Cacheable: true}
	appV1  = testutil.File{Path: "app.js", URL: "/app.js?h=1", Content: "app one", Cacheable: true}
	appV2  = testutil.File{Path: "app.js", URL: "/app.js?h=2", Content: "app two", Cacheable: true}
	oldCSS = testutil.File{Path: "old.css", Type: "css", Content: "old"}
)

func loadBundle(t *testing.T, f testutil.Fixture, parent *bundle.Bundle) *bundle.Bundle {
	t.Helper()
	var opts []bundle.Option
	if parent != nil {
		opts = append(opts, bundle.WithParent(parent))
	}
	b, err := bundle.New(f.Write(t, t.TempDir()), nil, opts...)
	require.NoError(t, err)
	return b
}

type fakeBridge struct {
	mu       sync.Mutex
	checks   int
	startups int
	pending  bool
}

func (f *fakeBridge) CheckForUpdates(context.Context) manager.CheckResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	return manager.CheckResult{Status: manager.StatusDownloadStarted, Version: "v2", Decision: manager.Accept(), Missing: 3}
}

func (f *fakeBridge) StartupDidComplete(func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startups++
}

func (f *fakeBridge) startupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startups
}

func (f *fakeBridge) ApplyPending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	applied := f.pending
	f.pending = false
	return applied
}

func (f *fakeBridge) Status() hcp.Status {
	return hcp.Status{CurrentVersion: "v1", InitialVersion: "v1", ManagerState: "idle"}
}

type fixtureServer struct {
	srv     *Server
	http    *httptest.Server
	bridge  *fakeBridge
	initial *bundle.Bundle
	v2      *bundle.Bundle
}

func newFixtureServer(t *testing.T) *fixtureServer {
	t.Helper()
	initial := loadBundle(t, testutil.Fixture{Version: "v1", AppID: "a", RootURL: "https://x.test", Files: []testutil.File{appV1, libJS, oldCSS}}, nil)
	v2 := loadBundle(t, testutil.Fixture{Version: "v2", AppID: "a", RootURL: "https://x.test", Files: []testutil.File{appV2, libJS}}, initial)

	s := New("127.0.0.1:0", nil)
	bridge := &fakeBridge{}
	s.Attach(bridge, initial)

	h := httptest.NewServer(s.Handler())
	t.Cleanup(h.Close)
	return &fixtureServer{srv: s, http: h, bridge: bridge, initial: initial, v2: v2}
}

func (f *fixtureServer) do(t *testing.T, method, uri string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, f.http.URL+uri, nil)
	require.NoError(t, err)
	resp, err := f.http.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestServer_ServesAssets(t *testing.T) {
	f := newFixtureServer(t)

	resp, body := f.do(t, http.MethodGet, "/app.js?h=1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "app one", body)
	assert.Equal(t, `"`+appV1.Hash()+`"`, resp.Header.Get("ETag"))
	assert.Equal(t, "public, max-age=31536000", resp.Header.Get("Cache-Control"))
	assert.Contains(t, resp.Header.Get("Content-Type"), "javascript")

	resp, body = f.do(t, http.MethodGet, "/old.css")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "old", body)
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
}

func TestServer_IndexFallback(t *testing.T) {
	f := newFixtureServer(t)

	tests := []struct {
		uri        string
		wantStatus int
		wantIndex  bool
	}{
		{uri: "/", wantStatus: http.StatusOK, wantIndex: true},
		{uri: "/some/route", wantStatus: http.StatusOK, wantIndex: true},
		{uri: "/missing.js", wantStatus: http.StatusNotFound},
		{uri: "/some/route?meteor_dont_serve_index=true", wantStatus: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			resp, body := f.do(t, http.MethodGet, tt.uri)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantIndex {
				assert.Contains(t, body, "__meteor_runtime_config__")
				assert.Empty(t, resp.Header.Get("ETag"))
			}
		})
	}
}

func TestServer_ReloadServesThroughParent(t *testing.T) {
	f := newFixtureServer(t)
	f.srv.Reload(f.v2)
	assert.Same(t, f.v2, f.srv.Serving())

	_, body := f.do(t, http.MethodGet, "/app.js?h=2")
	assert.Equal(t, "app two", body)

	// deduplicated against the initial bundle
	resp, body := f.do(t, http.MethodGet, "/lib.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "lib", body)

	// the dont-serve-index flag does not hide a real asset
	_, body = f.do(t, http.MethodGet, "/app.js?h=2&meteor_dont_serve_index=true")
	assert.Equal(t, "app two", body)

	// the old app.js URL is still answered by the previous bundle
	_, body = f.do(t, http.MethodGet, "/app.js?h=1")
	assert.Equal(t, "app one", body)
}

func TestServer_BridgeEndpoints(t *testing.T) {
	f := newFixtureServer(t)

	resp, body := f.do(t, http.MethodPost, "/__hcp/check")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var check checkResponse
	require.NoError(t, json.Unmarshal([]byte(body), &check))
	assert.Equal(t, checkResponse{Status: "download-started", Version: "v2", Accepted: true, Missing: 3}, check)

	resp, _ = f.do(t, http.MethodPost, "/__hcp/startup-complete")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, f.bridge.startupCount())

	resp, body = f.do(t, http.MethodPost, "/__hcp/reload")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"reloaded":false}`, body)

	resp, body = f.do(t, http.MethodGet, "/__hcp/status")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, contentTypeJSON, resp.Header.Get("Content-Type"))
	var status hcp.Status
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	assert.Equal(t, "v1", status.CurrentVersion)
}

func TestServer_NothingAttached(t *testing.T) {
	s := New("127.0.0.1:0", nil)
	h := httptest.NewServer(s.Handler())
	defer h.Close()

	for _, req := range []struct{ method, path string }{
		{http.MethodGet, "/"},
		{http.MethodPost, "/__hcp/check"},
		{http.MethodGet, "/__hcp/status"},
	} {
		r, err := http.NewRequest(req.method, h.URL+req.path, nil)
		require.NoError(t, err)
		resp, err := h.Client().Do(r)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, req.path)
	}
}

func TestServer_ListenAndServeStopsOnCancel(t *testing.T) {
	s := New("127.0.0.1:0", nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	cancel()
	assert.NoError(t, <-done)
}

func TestStripParam(t *testing.T) {
	tests := []struct{ in, want string }{
		{"h=1", "h=1"},
		{"h=1&meteor_dont_serve_index=true", "h=1"},
		{"meteor_dont_serve_index=true&h=1", "h=1"},
		{"meteor_dont_serve_index", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripParam(tt.in, dontServeIndexParam), tt.in)
	}
}

func TestContentType(t *testing.T) {
	assert.True(t, strings.HasPrefix(contentType("css"), "text/css"))
	assert.Empty(t, contentType("asset"))
}
