package manager

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opmodel/hcp/internal/bundle"
	"github.com/opmodel/hcp/internal/download"
	oerrors "github.com/opmodel/hcp/internal/errors"
	"github.com/opmodel/hcp/internal/fsutil"
	"github.com/opmodel/hcp/internal/manifest"
	"github.com/opmodel/hcp/internal/testutil"
)

const (
	testAppID   = "app-1"
	testRootURL = "https://app.example.com"
)

func fixture(version string, files ...testutil.File) testutil.Fixture {
	return testutil.Fixture{Version: version, AppID: testAppID, RootURL: testRootURL, Files: files}
}

var (
	libV1  = testutil.File{Path: "lib.js", Content: "shared library", Cacheable: true}
	appV1  = testutil.File{Path: "app.js", Content: "app version one", Cacheable: true}
	appV2  = testutil.File{Path: "app.js", Content: "app version two", Cacheable: true}
	cssV2  = testutil.File{Path: "css/new.css", Type: "css", Content: "body{}", Cacheable: true}
	cssV3  = testutil.File{Path: "css/new.css", Type: "css", Content: "body{margin:0}", Cacheable: true}
	logoV1 = testutil.File{Path: "logo.png", Type: "asset", Content: "png"}
)

func v1() testutil.Fixture { return fixture("v1", appV1, libV1, logoV1) }
func v2() testutil.Fixture { return fixture("v2", appV2, libV1, logoV1, cssV2) }
func v3() testutil.Fixture { return fixture("v3", appV2, libV1, logoV1, cssV3) }

type recorder struct {
	mu       sync.Mutex
	policy   func(m *manifest.Manifest) Decision
	asked    []string
	finished []*bundle.Bundle
	errs     []error
	// deliver, when set, runs after a finished bundle is recorded.
	deliver func(b *bundle.Bundle)
}

func (r *recorder) ShouldDownloadBundleForManifest(m *manifest.Manifest) Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asked = append(r.asked, m.Version)
	if r.policy != nil {
		return r.policy(m)
	}
	return Accept()
}

func (r *recorder) OnFinishedDownloadingAssetBundle(b *bundle.Bundle) {
	r.mu.Lock()
	r.finished = append(r.finished, b)
	deliver := r.deliver
	r.mu.Unlock()
	if deliver != nil {
		deliver(b)
	}
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) finishedVersions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, b := range r.finished {
		out = append(out, b.Version())
	}
	return out
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

type env struct {
	store   string
	initial *bundle.Bundle
	srv     *testutil.Server
	rec     *recorder
	m       *Manager
}

func newInitial(t *testing.T) *bundle.Bundle {
	t.Helper()
	dir := v1().Write(t, t.TempDir())
	b, err := bundle.New(dir, nil, bundle.WithStage(bundle.StageBundled))
	require.NoError(t, err)
	return b
}

func newEnv(t *testing.T, remote testutil.Fixture) *env {
	t.Helper()
	e := &env{
		store:   t.TempDir(),
		initial: newInitial(t),
		srv:     testutil.NewServer(t, remote),
		rec:     &recorder{},
	}
	e.open(t)
	return e
}

func (e *env) open(t *testing.T) {
	t.Helper()
	m, err := New(e.store, e.initial, e.rec, Options{
		Client: e.srv.Client(),
		Expect: download.Expectations{AppID: testAppID, RootURL: testRootURL},
		FS:     &fsutil.Retrier{Attempts: 1},
	})
	require.NoError(t, err)
	e.m = m
}

func (e *env) check() CheckResult {
	r := e.m.CheckForUpdates(context.Background(), e.srv.BaseURL())
	e.m.Wait()
	return r
}

func (e *env) versionDir(version string) string {
	return filepath.Join(e.store, VersionsDirName, version)
}

func TestCheckForUpdates_DownloadsOnlyChangedAssets(t *testing.T) {
	e := newEnv(t, v2())

	r := e.check()

	assert.Equal(t, StatusDownloadStarted, r.Status)
	assert.Equal(t, "v2", r.Version)
	assert.True(t, r.Decision.Accept)
	// app.js, css/new.css and the index page
	assert.Equal(t, 3, r.Missing)
	assert.Len(t, e.srv.AssetRequests(), 3)
	for _, uri := range e.srv.AssetRequests() {
		assert.NotContains(t, uri, "lib.js")
		assert.NotContains(t, uri, "logo.png")
	}

	require.Equal(t, []string{"v2"}, e.rec.finishedVersions())
	assert.Empty(t, e.rec.errors())

	b := e.rec.finished[0]
	assert.Equal(t, e.versionDir("v2"), b.Dir())
	assert.Equal(t, bundle.StageCommitted, b.Stage())
	assert.Same(t, e.initial, b.Parent())
	assert.Equal(t, appV2.Content, testutil.ReadFile(t, filepath.Join(b.Dir(), "app.js")))
	assert.Equal(t, cssV2.Content, testutil.ReadFile(t, filepath.Join(b.Dir(), "css", "new.css")))
	assert.FileExists(t, filepath.Join(b.Dir(), bundle.ManifestFileName))
	assert.NoDirExists(t, filepath.Join(e.store, VersionsDirName, DownloadingDirName))

	assert.Equal(t, []string{"v2"}, e.m.DownloadedVersions())
	assert.Same(t, b, e.m.DownloadedBundle("v2"))
	assert.Equal(t, StateIdle, e.m.State())
}

func TestCheckForUpdates_SecondCallWhileDownloadingIsNoop(t *testing.T) {
	e := newEnv(t, v2())
	release := e.srv.Block()

	first := e.m.CheckForUpdates(context.Background(), e.srv.BaseURL())
	second := e.m.CheckForUpdates(context.Background(), e.srv.BaseURL())

	assert.Equal(t, StatusDownloadStarted, first.Status)
	assert.Equal(t, StatusAlreadyDownloading, second.Status)
	assert.Equal(t, StateDownloading, e.m.State())
	assert.Equal(t, "v2", e.m.DownloadingVersion())

	release()
	e.m.Wait()

	assert.Equal(t, []string{"v2"}, e.rec.finishedVersions())
	assert.Len(t, e.srv.AssetRequests(), 3)
	assert.Equal(t, []string{"v2"}, e.rec.asked)
}

func TestCheckForUpdates_AlreadyDownloaded(t *testing.T) {
	e := newEnv(t, v2())
	e.check()
	e.srv.ResetRequests()

	r := e.check()

	assert.Equal(t, StatusAlreadyAvailable, r.Status)
	assert.Empty(t, e.srv.AssetRequests())
	require.Equal(t, []string{"v2", "v2"}, e.rec.finishedVersions())
	assert.Same(t, e.rec.finished[0], e.rec.finished[1])
}

func TestCheckForUpdates_InitialVersion(t *testing.T) {
	e := newEnv(t, v1())

	r := e.check()

	assert.Equal(t, StatusAlreadyAvailable, r.Status)
	require.Len(t, e.rec.finished, 1)
	assert.Same(t, e.initial, e.rec.finished[0])
	assert.Empty(t, e.srv.AssetRequests())
}

func TestCheckForUpdates_Rejected(t *testing.T) {
	e := newEnv(t, v2())
	e.rec.policy = func(*manifest.Manifest) Decision { return Reject("blacklisted") }

	r := e.check()

	assert.Equal(t, StatusRejected, r.Status)
	assert.False(t, r.Decision.Accept)
	assert.Equal(t, "blacklisted", r.Decision.Reason)
	assert.Empty(t, e.srv.AssetRequests())
	assert.Empty(t, e.rec.finished)
	assert.Empty(t, e.rec.errors())
	assert.Equal(t, StateIdle, e.m.State())
}

func TestCheckForUpdates_ReusesDownloadedAssets(t *testing.T) {
	e := newEnv(t, v2())
	e.check()

	e.srv.Publish(v3())
	e.srv.ResetRequests()
	r := e.check()

	assert.Equal(t, StatusDownloadStarted, r.Status)
	// css/new.css and the index page; app.js comes from v2
	assert.Equal(t, 2, r.Missing)
	for _, uri := range e.srv.AssetRequests() {
		assert.NotContains(t, uri, "app.js")
	}

	require.Equal(t, []string{"v2", "v3"}, e.rec.finishedVersions())
	v3Dir := e.versionDir("v3")
	assert.Equal(t, appV2.Content, testutil.ReadFile(t, filepath.Join(v3Dir, "app.js")))
	assert.Equal(t, cssV3.Content, testutil.ReadFile(t, filepath.Join(v3Dir, "css", "new.css")))
	assert.Equal(t, []string{"v2", "v3"}, e.m.DownloadedVersions())
}

func TestCheckForUpdates_AllAssetsLocal(t *testing.T) {
	e := newEnv(t, v2())
	e.check()

	// same assets as v2 under a new version; only the index page differs
	e.srv.Publish(fixture("v2b", appV2, libV1, logoV1, cssV2))
	e.srv.ResetRequests()
	r := e.check()

	assert.Equal(t, StatusDownloadStarted, r.Status)
	assert.Equal(t, 1, r.Missing)
	assert.Equal(t, []string{"/__cordova/"}, e.srv.AssetRequests())
	assert.Equal(t, []string{"v2", "v2b"}, e.rec.finishedVersions())
}

func TestCheckForUpdates_RecoversPartialDownload(t *testing.T) {
	e := newEnv(t, v2())

	// an interrupted v2 download that fetched app.js only
	downloading := filepath.Join(e.store, VersionsDirName, DownloadingDirName)
	testutil.WriteFile(t, filepath.Join(downloading, bundle.ManifestFileName), v2().ManifestJSON())
	testutil.WriteFile(t, filepath.Join(downloading, "app.js"), []byte(appV2.Content))

	r := e.check()

	assert.Equal(t, StatusDownloadStarted, r.Status)
	assert.Equal(t, 2, r.Missing)
	for _, uri := range e.srv.AssetRequests() {
		assert.NotContains(t, uri, "app.js")
	}
	require.Equal(t, []string{"v2"}, e.rec.finishedVersions())
	assert.Equal(t, appV2.Content, testutil.ReadFile(t, filepath.Join(e.versionDir("v2"), "app.js")))
	assert.NoDirExists(t, filepath.Join(e.store, VersionsDirName, PartialDownloadDirName))
	assert.Nil(t, e.m.PartialBundle())
}

func TestCheckForUpdates_NewVersionCancelsStaleDownload(t *testing.T) {
	e := newEnv(t, v2())
	release := e.srv.Block()

	first := e.m.CheckForUpdates(context.Background(), e.srv.BaseURL())
	require.Equal(t, StatusDownloadStarted, first.Status)

	e.srv.Publish(v3())
	second := e.m.CheckForUpdates(context.Background(), e.srv.BaseURL())
	require.Equal(t, StatusDownloadStarted, second.Status)
	assert.Equal(t, "v3", e.m.DownloadingVersion())

	release()
	e.m.Wait()

	assert.Equal(t, []string{"v3"}, e.rec.finishedVersions())
	assert.Empty(t, e.rec.errors())
	assert.NoDirExists(t, e.versionDir("v2"))
	assert.DirExists(t, e.versionDir("v3"))
}

func TestCheckForUpdates_Failures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(s *testutil.Server)
		sentinel error
		contains string
	}{
		{
			name:     "manifest not found",
			setup:    func(s *testutil.Server) { s.SetStatus("/manifest.json", http.StatusNotFound) },
			sentinel: oerrors.ErrConnectivity,
			contains: "non-success status code 404",
		},
		{
			name:     "invalid manifest",
			setup:    func(s *testutil.Server) { s.SetBody("/manifest.json", []byte(`{"format":"web-program-pre2"}`)) },
			sentinel: oerrors.ErrManifest,
			contains: "incompatible",
		},
		{
			name:     "unsafe version name",
			setup:    func(s *testutil.Server) { s.Publish(fixture("../escape", appV2)) },
			sentinel: oerrors.ErrManifest,
			contains: "cannot be stored on disk",
		},
		{
			name: "asset path outside the bundle",
			setup: func(s *testutil.Server) {
				s.Publish(fixture("v2", testutil.File{Path: "../../escaped.js", URL: "/escaped.js", Content: "x"}))
			},
			sentinel: oerrors.ErrManifest,
			contains: "outside the bundle",
		},
		{
			name:     "hash mismatch",
			setup:    func(s *testutil.Server) { s.SetETag("/app.js", `"`+testutil.Hash("tampered")+`"`) },
			sentinel: oerrors.ErrVerification,
			contains: "hash mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, v2())
			tt.setup(e.srv)

			e.check()

			errs := e.rec.errors()
			require.Len(t, errs, 1)
			assert.ErrorIs(t, errs[0], tt.sentinel)
			assert.Contains(t, errs[0].Error(), tt.contains)
			assert.Empty(t, e.rec.finished)
			assert.Empty(t, e.m.DownloadedVersions())
			assert.Equal(t, StateIdle, e.m.State())
		})
	}
}

func TestNew_ScansVersionsDirectory(t *testing.T) {
	e := newEnv(t, v2())
	versions := filepath.Join(e.store, VersionsDirName)
	v2().Write(t, filepath.Join(versions, "v2"))
	v3().Write(t, filepath.Join(versions, "v3"))
	v3().Write(t, filepath.Join(versions, DownloadingDirName))
	v3().Write(t, filepath.Join(versions, PartialDownloadDirName))
	require.NoError(t, os.MkdirAll(filepath.Join(versions, "junk"), 0o755))

	e.open(t)

	assert.Equal(t, []string{"v2", "v3"}, e.m.DownloadedVersions())
	b := e.m.DownloadedBundle("v2")
	require.NotNil(t, b)
	assert.Same(t, e.initial, b.Parent())
	assert.Equal(t, bundle.StageCommitted, b.Stage())

	partial := e.m.PartialBundle()
	require.NotNil(t, partial)
	assert.Equal(t, bundle.StagePartialRecovered, partial.Stage())
}

func TestPruneExcept(t *testing.T) {
	e := newEnv(t, v2())
	versions := filepath.Join(e.store, VersionsDirName)
	for _, f := range []testutil.Fixture{v2(), v3(), fixture("v4", appV1)} {
		f.Write(t, filepath.Join(versions, f.Version))
	}
	testutil.WriteFile(t, filepath.Join(versions, DownloadingDirName, "x"), []byte("x"))
	e.open(t)

	require.NoError(t, e.m.PruneExcept("v3", "v4"))

	assert.Equal(t, []string{"v3", "v4"}, e.m.DownloadedVersions())
	assert.NoDirExists(t, filepath.Join(versions, "v2"))
	assert.DirExists(t, filepath.Join(versions, "v3"))
	assert.DirExists(t, filepath.Join(versions, DownloadingDirName))

	require.NoError(t, e.m.PruneExcept())
	assert.Empty(t, e.m.DownloadedVersions())
}

func TestPruneExceptFunc_WaitsForDelivery(t *testing.T) {
	e := newEnv(t, v2())

	var mu sync.Mutex
	pending := ""
	entered := make(chan struct{})
	release := make(chan struct{})
	e.rec.deliver = func(b *bundle.Bundle) {
		close(entered)
		<-release
		mu.Lock()
		pending = b.Version()
		mu.Unlock()
	}

	checked := make(chan struct{})
	go func() {
		defer close(checked)
		e.check()
	}()

	select {
	case <-entered:
	case <-time.After(10 * time.Second):
		t.Fatal("download was not delivered")
	}
	require.DirExists(t, e.versionDir("v2"))

	pruned := make(chan error, 1)
	go func() {
		pruned <- e.m.PruneExceptFunc(func() []string {
			mu.Lock()
			defer mu.Unlock()
			return []string{pending}
		})
	}()

	select {
	case err := <-pruned:
		t.Fatalf("pruned while a bundle was being delivered: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-pruned:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("prune did not finish")
	}
	<-checked

	assert.DirExists(t, e.versionDir("v2"))
	assert.Equal(t, []string{"v2"}, e.m.DownloadedVersions())
}

func TestManifestURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"https://app.example.com/__cordova/", "https://app.example.com/__cordova/manifest.json"},
		{"http://10.0.2.2:3000/__cordova/", "http://10.0.2.2:3000/__cordova/manifest.json"},
	}
	for _, tt := range tests {
		got, err := ManifestURL(tt.base)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ManifestURL("http://[::1")
	assert.ErrorIs(t, err, oerrors.ErrValidation)
}

func TestDecision(t *testing.T) {
	assert.True(t, Accept().Accept)
	assert.True(t, AcceptWithWarning("compat").Accept)
	assert.Equal(t, "compat", AcceptWithWarning("compat").Reason)
	assert.False(t, Reject("current").Accept)
	assert.Equal(t, "download-started", StatusDownloadStarted.String())
	assert.Equal(t, "checking-manifest", StateCheckingManifest.String())
}
