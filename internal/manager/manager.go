// Package manager drives the fetch-a-new-version workflow: it polls the
// remote manifest, reuses assets already on disk, hands the rest to a
// downloader and commits finished downloads into the versions directory.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/opmodel/hcp/internal/bundle"
	"github.com/opmodel/hcp/internal/download"
	oerrors "github.com/opmodel/hcp/internal/errors"
	"github.com/opmodel/hcp/internal/fsutil"
	"github.com/opmodel/hcp/internal/manifest"
	"github.com/opmodel/hcp/internal/output"
	"github.com/opmodel/hcp/internal/transport"
)

const (
	// VersionsDirName holds one directory per downloaded version.
	VersionsDirName = "versions"
	// DownloadingDirName is the scratch directory of the active download.
	DownloadingDirName = "Downloading"
	// PartialDownloadDirName holds an interrupted download kept as a cache.
	PartialDownloadDirName = "PartialDownload"
	// ManifestFileName is fetched relative to the base URL.
	ManifestFileName = "manifest.json"

	maxManifestBytes = 16 << 20
)

// Callback connects the manager to its owner. Methods are never called while
// the manager holds its lock.
type Callback interface {
	// ShouldDownloadBundleForManifest decides whether a discovered version
	// is worth fetching.
	ShouldDownloadBundleForManifest(m *manifest.Manifest) Decision
	// OnFinishedDownloadingAssetBundle reports a bundle that is ready on disk.
	OnFinishedDownloadingAssetBundle(b *bundle.Bundle)
	// OnError reports the single failure of a check or download.
	OnError(err error)
}

// Options configures a Manager.
type Options struct {
	// Client fetches the manifest and assets. Defaults to transport.NewClient.
	Client *http.Client
	// Concurrency caps in-flight asset requests.
	Concurrency int
	// Expect is checked against every downloaded index page.
	Expect download.Expectations
	// FS performs retried directory operations. Defaults to fsutil.Default.
	FS *fsutil.Retrier
	// Logger defaults to the "manager" component logger.
	Logger *log.Logger
}

// Manager owns the versions directory of a bundle store.
type Manager struct {
	versionsDir    string
	downloadingDir string
	partialDir     string
	initial        *bundle.Bundle
	callback       Callback
	client         *http.Client
	concurrency    int
	expect         download.Expectations
	fs             *fsutil.Retrier
	log            *log.Logger

	// checkMu serializes CheckForUpdates.
	checkMu sync.Mutex
	// deliveries is read-held from registering or looking up a bundle until
	// the owner has been told about it. Pruning write-holds it.
	deliveries sync.RWMutex

	mu         sync.Mutex
	state      State
	downloaded map[string]*bundle.Bundle
	partial    *bundle.Bundle
	downloader *download.Downloader
	// started is the most recently started downloader, kept for Wait.
	started *download.Downloader
}

// New opens the bundle store at storeDir, creating the versions directory
// and loading every fully downloaded version found there.
func New(storeDir string, initial *bundle.Bundle, callback Callback, opts Options) (*Manager, error) {
	versionsDir := filepath.Join(storeDir, VersionsDirName)
	m := &Manager{
		versionsDir:    versionsDir,
		downloadingDir: filepath.Join(versionsDir, DownloadingDirName),
		partialDir:     filepath.Join(versionsDir, PartialDownloadDirName),
		initial:        initial,
		callback:       callback,
		client:         opts.Client,
		concurrency:    opts.Concurrency,
		expect:         opts.Expect,
		fs:             opts.FS,
		log:            opts.Logger,
		downloaded:     make(map[string]*bundle.Bundle),
	}
	if m.client == nil {
		m.client = transport.NewClient(transport.DefaultTimeout, m.concurrency)
	}
	if m.fs == nil {
		m.fs = fsutil.Default
	}
	if m.log == nil {
		m.log = output.ComponentLogger("manager")
	}

	if err := os.MkdirAll(versionsDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating versions directory %s: %w", oerrors.ErrFilesystem, versionsDir, err)
	}
	if err := m.loadDownloadedBundles(); err != nil {
		return nil, err
	}
	m.loadPartialBundle()
	return m, nil
}

func (m *Manager) loadDownloadedBundles() error {
	entries, err := os.ReadDir(m.versionsDir)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %w", oerrors.ErrFilesystem, m.versionsDir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || name == DownloadingDirName || name == PartialDownloadDirName {
			continue
		}
		dir := filepath.Join(m.versionsDir, name)
		b, err := bundle.New(dir, nil, bundle.WithParent(m.initial))
		if err != nil {
			m.log.Warn("skipping unreadable version directory", "dir", dir, "error", err)
			continue
		}
		m.downloaded[b.Version()] = b
		m.log.Debug("loaded downloaded bundle", "version", b.Version())
	}
	return nil
}

func (m *Manager) loadPartialBundle() {
	if !fsutil.IsDir(m.partialDir) {
		return
	}
	b, err := bundle.New(m.partialDir, nil, bundle.WithParent(m.initial), bundle.WithStage(bundle.StagePartialRecovered))
	if err != nil {
		m.log.Warn("could not load partial download", "dir", m.partialDir, "error", err)
		return
	}
	m.partial = b
}

// InitialBundle returns the bundled initial version.
func (m *Manager) InitialBundle() *bundle.Bundle {
	return m.initial
}

// VersionsDir returns the directory holding downloaded versions.
func (m *Manager) VersionsDir() string {
	return m.versionsDir
}

// State returns the current workflow state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// DownloadedBundle returns the fully downloaded bundle for version, or nil.
func (m *Manager) DownloadedBundle(version string) *bundle.Bundle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downloaded[version]
}

// DownloadedVersions returns the versions on disk in sorted order.
func (m *Manager) DownloadedVersions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	versions := make([]string, 0, len(m.downloaded))
	for v := range m.downloaded {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// PartialBundle returns the recovered partial download, or nil.
func (m *Manager) PartialBundle() *bundle.Bundle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.partial
}

// DownloadingVersion returns the version of the active download, or "".
func (m *Manager) DownloadingVersion() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.activeLocked() {
		return ""
	}
	return m.downloader.Bundle().Version()
}

func (m *Manager) activeLocked() bool {
	if m.downloader == nil {
		return false
	}
	s := m.downloader.State()
	return s == download.StateIdle || s == download.StateRunning
}

func (m *Manager) settleLocked() {
	if m.activeLocked() {
		m.state = StateDownloading
		return
	}
	m.state = StateIdle
}

func (m *Manager) settle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settleLocked()
}

// CheckForUpdates fetches the manifest below baseURL and, when the owner
// accepts the version, prepares and starts its download. The result
// describes which path was taken; failures are also reported through
// Callback.OnError.
func (m *Manager) CheckForUpdates(ctx context.Context, baseURL string) CheckResult {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	m.mu.Lock()
	m.state = StateCheckingManifest
	m.mu.Unlock()

	mf, raw, err := m.fetchManifest(ctx, baseURL)
	if err != nil {
		return m.fail(CheckResult{}, err)
	}
	result := CheckResult{Version: mf.Version}
	logger := m.log.With("version", mf.Version)

	m.mu.Lock()
	if m.activeLocked() && m.downloader.Bundle().Version() == mf.Version {
		m.settleLocked()
		m.mu.Unlock()
		logger.Debug("already downloading")
		result.Status = StatusAlreadyDownloading
		return result
	}
	m.mu.Unlock()

	result.Decision = m.callback.ShouldDownloadBundleForManifest(mf)
	if !result.Decision.Accept {
		m.settle()
		logger.Debug("not downloading", "reason", result.Decision.Reason)
		result.Status = StatusRejected
		return result
	}

	m.cancelDownload()

	if mf.Version == m.initial.Version() {
		m.settle()
		logger.Info("version is the initial bundle")
		result.Status = StatusAlreadyAvailable
		m.callback.OnFinishedDownloadingAssetBundle(m.initial)
		return result
	}
	m.deliveries.RLock()
	if b := m.DownloadedBundle(mf.Version); b != nil {
		m.settle()
		logger.Info("version already downloaded")
		result.Status = StatusAlreadyAvailable
		m.callback.OnFinishedDownloadingAssetBundle(b)
		m.deliveries.RUnlock()
		return result
	}

	m.mu.Lock()
	m.state = StatePreparingDownload
	b, missing, err := m.prepareLocked(mf, raw)
	if err != nil {
		m.mu.Unlock()
		m.deliveries.RUnlock()
		return m.fail(result, err)
	}
	result.Missing = len(missing)

	if len(missing) == 0 {
		m.state = StateFinalizing
		err := m.finalizeLocked(b)
		m.state = StateIdle
		m.mu.Unlock()
		if err != nil {
			m.deliveries.RUnlock()
			return m.fail(result, err)
		}
		logger.Info("all assets found locally")
		result.Status = StatusFinished
		m.callback.OnFinishedDownloadingAssetBundle(b)
		m.deliveries.RUnlock()
		return result
	}

	cb := &downloadCallback{m: m}
	d, err := download.New(b, baseURL, missing, cb, download.Options{
		Client:      m.client,
		Concurrency: m.concurrency,
		Expect:      m.expect,
	})
	if err != nil {
		m.state = StateIdle
		m.mu.Unlock()
		m.deliveries.RUnlock()
		return m.fail(result, err)
	}
	cb.d = d
	m.downloader = d
	m.started = d
	m.state = StateDownloading
	m.mu.Unlock()
	m.deliveries.RUnlock()

	logger.Info("downloading", "assets", len(missing))
	d.Resume(context.WithoutCancel(ctx))
	result.Status = StatusDownloadStarted
	return result
}

func (m *Manager) fail(result CheckResult, err error) CheckResult {
	m.settle()
	m.log.Error("update check failed", "error", err)
	result.Status = StatusFailed
	m.callback.OnError(err)
	return result
}

// Wait blocks until the active download, if any, has stopped and its
// outcome has been delivered.
func (m *Manager) Wait() {
	m.mu.Lock()
	d := m.started
	m.mu.Unlock()
	if d != nil {
		d.Wait()
	}
}

// Cancel stops the active download without reporting an outcome.
func (m *Manager) Cancel() {
	m.cancelDownload()
	m.settle()
}

func (m *Manager) cancelDownload() {
	m.mu.Lock()
	d := m.downloader
	m.downloader = nil
	m.mu.Unlock()

	if d == nil {
		return
	}
	m.log.Debug("cancelling download", "version", d.Bundle().Version())
	d.Cancel()
	d.Wait()
}

func (m *Manager) fetchManifest(ctx context.Context, baseURL string) (*manifest.Manifest, []byte, error) {
	u, err := ManifestURL(baseURL)
	if err != nil {
		return nil, nil, err
	}

	resp, err := transport.Get(ctx, m.client, u)
	if err != nil {
		return nil, nil, fmt.Errorf("error downloading asset manifest: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("%w: non-success status code %d for asset manifest %s",
			oerrors.ErrConnectivity, resp.StatusCode, u)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading asset manifest: %v", oerrors.ErrConnectivity, err)
	}

	mf, err := manifest.Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	if err := validVersionName(mf.Version); err != nil {
		return nil, nil, err
	}
	return mf, raw, nil
}

// ManifestURL returns the manifest location below baseURL.
func ManifestURL(baseURL string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base URL %q: %v", oerrors.ErrValidation, baseURL, err)
	}
	return base.ResolveReference(&url.URL{Path: ManifestFileName}).String(), nil
}

// validVersionName rejects versions that cannot name a directory below
// the versions directory.
func validVersionName(version string) error {
	switch {
	case version == "." || version == "..",
		version == DownloadingDirName || version == PartialDownloadDirName,
		strings.ContainsAny(version, `/\`+"\x00"):
		return fmt.Errorf("%w: version %q cannot be stored on disk", oerrors.ErrManifest, version)
	}
	return nil
}

// prepareLocked sets up the scratch directory for mf and copies every asset
// that is already available on disk. It returns the pending bundle and the
// assets still to be fetched.
func (m *Manager) prepareLocked(mf *manifest.Manifest, raw []byte) (*bundle.Bundle, []*bundle.Asset, error) {
	m.recoverPartialLocked()

	if err := os.MkdirAll(m.downloadingDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("%w: creating %s: %w", oerrors.ErrFilesystem, m.downloadingDir, err)
	}
	manifestPath := filepath.Join(m.downloadingDir, bundle.ManifestFileName)
	if err := fsutil.WriteFileAtomic(manifestPath, raw, 0o644); err != nil {
		return nil, nil, fmt.Errorf("%w: writing %s: %w", oerrors.ErrFilesystem, manifestPath, err)
	}

	b, err := bundle.New(m.downloadingDir, mf, bundle.WithParent(m.initial), bundle.WithStage(bundle.StageScratch))
	if err != nil {
		return nil, nil, err
	}

	var missing []*bundle.Asset
	for _, a := range b.OwnAssets() {
		cached := m.cachedAssetLocked(a)
		if cached == nil {
			missing = append(missing, a)
			continue
		}
		if err := m.fs.CopyFile(cached.File(), a.File()); err != nil {
			return nil, nil, fmt.Errorf("%w: %w", oerrors.ErrFilesystem, err)
		}
		m.log.Debug("reusing cached asset", "asset", a.FilePath, "from", cached.Bundle().Dir())
	}
	return b, missing, nil
}

// cachedAssetLocked finds a cache-equivalent copy of a in a downloaded
// bundle, then in the partial download if the file made it to disk.
func (m *Manager) cachedAssetLocked(a *bundle.Asset) *bundle.Asset {
	for _, b := range m.downloaded {
		if cached := b.CachedAssetForURLPath(a.URLPath, a.Hash); cached != nil {
			return cached
		}
	}
	if m.partial != nil {
		if cached := m.partial.CachedAssetForURLPath(a.URLPath, a.Hash); cached != nil && fsutil.Exists(cached.File()) {
			return cached
		}
	}
	return nil
}

// recoverPartialLocked moves a leftover scratch directory aside so its files
// can serve as a cache. Failures are logged.
func (m *Manager) recoverPartialLocked() {
	if !fsutil.IsDir(m.downloadingDir) {
		return
	}

	m.partial = nil
	if err := m.fs.RemoveAll(m.partialDir); err != nil {
		m.log.Error("could not delete partial download", "dir", m.partialDir, "error", err)
	}
	if err := m.fs.Rename(m.downloadingDir, m.partialDir); err != nil {
		m.log.Error("could not move downloading directory aside", "dir", m.downloadingDir, "error", err)
		if err := m.fs.RemoveAll(m.downloadingDir); err != nil {
			m.log.Error("could not delete downloading directory", "dir", m.downloadingDir, "error", err)
		}
		return
	}
	m.loadPartialBundle()
}

// finalizeLocked commits the scratch directory as versions/<version>.
func (m *Manager) finalizeLocked(b *bundle.Bundle) error {
	dst := filepath.Join(m.versionsDir, b.Version())
	if err := m.fs.RemoveAll(dst); err != nil {
		return fmt.Errorf("%w: removing %s: %w", oerrors.ErrFilesystem, dst, err)
	}
	if err := m.fs.Rename(m.downloadingDir, dst); err != nil {
		return fmt.Errorf("%w: moving %s to %s: %w", oerrors.ErrFilesystem, m.downloadingDir, dst, err)
	}
	b.DidMoveToDirectory(dst, bundle.StageCommitted)
	m.downloaded[b.Version()] = b

	if m.partial != nil {
		m.partial = nil
		if err := m.fs.RemoveAll(m.partialDir); err != nil {
			m.log.Error("could not delete partial download", "dir", m.partialDir, "error", err)
		}
	}
	return nil
}

// PruneExcept deletes every downloaded version not listed in keep. It keeps
// going past individual failures and returns them joined.
func (m *Manager) PruneExcept(keep ...string) error {
	return m.PruneExceptFunc(func() []string { return keep })
}

// PruneExceptFunc is PruneExcept with the versions to keep read from keep
// once no bundle is being handed to the owner. A version that is about to
// become the owner's pending bundle is therefore already reported by keep.
func (m *Manager) PruneExceptFunc(keep func() []string) error {
	m.deliveries.Lock()
	defer m.deliveries.Unlock()
	return m.pruneExcept(keep())
}

func (m *Manager) pruneExcept(keep []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keepSet := make(map[string]bool, len(keep))
	for _, v := range keep {
		keepSet[v] = true
	}

	entries, err := os.ReadDir(m.versionsDir)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %w", oerrors.ErrFilesystem, m.versionsDir, err)
	}

	dirVersion := make(map[string]string, len(m.downloaded))
	for v, b := range m.downloaded {
		dirVersion[filepath.Base(b.Dir())] = v
	}

	var errs []error
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || name == DownloadingDirName || name == PartialDownloadDirName {
			continue
		}
		version, known := dirVersion[name]
		if !known {
			version = name
		}
		if keepSet[version] {
			continue
		}

		dir := filepath.Join(m.versionsDir, name)
		if err := m.fs.RemoveAll(dir); err != nil {
			m.log.Error("could not delete version", "dir", dir, "error", err)
			errs = append(errs, fmt.Errorf("%w: removing %s: %w", oerrors.ErrFilesystem, dir, err))
			continue
		}
		delete(m.downloaded, version)
		m.log.Debug("deleted version", "version", version)
	}
	return errors.Join(errs...)
}

// downloadCallback routes one downloader's outcome back to the manager,
// dropping it if the downloader has since been replaced.
type downloadCallback struct {
	m *Manager
	d *download.Downloader
}

func (c *downloadCallback) OnFinished(b *bundle.Bundle) {
	m := c.m
	m.deliveries.RLock()
	defer m.deliveries.RUnlock()

	m.mu.Lock()
	if m.downloader != c.d {
		m.mu.Unlock()
		return
	}
	m.state = StateFinalizing
	err := m.finalizeLocked(b)
	m.downloader = nil
	m.state = StateIdle
	m.mu.Unlock()

	if err != nil {
		m.log.Error("could not commit download", "version", b.Version(), "error", err)
		m.callback.OnError(err)
		return
	}
	m.callback.OnFinishedDownloadingAssetBundle(b)
}

func (c *downloadCallback) OnFailure(err error) {
	m := c.m
	m.mu.Lock()
	if m.downloader != c.d {
		m.mu.Unlock()
		return
	}
	m.downloader = nil
	m.state = StateIdle
	m.mu.Unlock()

	m.callback.OnError(err)
}
