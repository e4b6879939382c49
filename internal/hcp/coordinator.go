// Package hcp is the top-level hot-code-push policy: it picks the current
// bundle at boot, decides which discovered versions to fetch, and runs the
// startup watchdog that blacklists a version that fails to start and
// reverts to the last known good one.
package hcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/opmodel/hcp/internal/bundle"
	"github.com/opmodel/hcp/internal/download"
	oerrors "github.com/opmodel/hcp/internal/errors"
	"github.com/opmodel/hcp/internal/manager"
	"github.com/opmodel/hcp/internal/manifest"
	"github.com/opmodel/hcp/internal/output"
)

// DefaultStartupTimeout is how long a new current version has to report a
// successful startup.
const DefaultStartupTimeout = 20 * time.Second

// UpdatePath is resolved against the root URL to get the update base URL.
const UpdatePath = "__cordova/"

// Options configures a Coordinator.
type Options struct {
	// InitialDir is the bundled initial version shipped with the host.
	InitialDir string
	// StoreDir holds the versions directory.
	StoreDir string
	// DataDir holds autoupdate.json.
	DataDir string
	// RootURL overrides the root URL updates are fetched from.
	RootURL string
	// IgnoreCompatibility accepts a compatibility version mismatch with a
	// warning.
	IgnoreCompatibility bool
	// StartupTimeout arms the watchdog. Defaults to DefaultStartupTimeout.
	StartupTimeout time.Duration
	// Client and Concurrency are passed to the manager.
	Client      *http.Client
	Concurrency int
	// Notifier defaults to a LogNotifier.
	Notifier Notifier
	// Reloader is optional; without it a revert only changes Current.
	Reloader Reloader
	Logger   *log.Logger
}

// Coordinator owns the current and pending bundles.
type Coordinator struct {
	initial             *bundle.Bundle
	config              *Config
	manager             *manager.Manager
	notifier            Notifier
	reloader            Reloader
	rootURLOverride     string
	ignoreCompatibility bool
	timeout             time.Duration
	log                 *log.Logger

	mu      sync.Mutex
	current *bundle.Bundle
	pending *bundle.Bundle
	timer   *time.Timer
	// generation invalidates watchdog timers that were stopped too late.
	generation uint64
	lastErr    error

	cleanups sync.WaitGroup
}

// New loads the initial bundle and durable state and selects the current
// bundle. A broken initial bundle is a startup failure.
func New(opts Options) (*Coordinator, error) {
	c := &Coordinator{
		notifier:            opts.Notifier,
		reloader:            opts.Reloader,
		rootURLOverride:     opts.RootURL,
		ignoreCompatibility: opts.IgnoreCompatibility,
		timeout:             opts.StartupTimeout,
		log:                 opts.Logger,
	}
	if c.log == nil {
		c.log = output.ComponentLogger("hcp")
	}
	if c.notifier == nil {
		c.notifier = LogNotifier{Logger: c.log}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultStartupTimeout
	}

	initial, err := bundle.New(opts.InitialDir, nil, bundle.WithStage(bundle.StageBundled))
	if err != nil {
		return nil, fmt.Errorf("loading initial bundle: %w", err)
	}
	c.initial = initial

	cfgPath := filepath.Join(opts.DataDir, ConfigFileName)
	cfg, err := LoadConfig(cfgPath)
	if errors.Is(err, ErrMalformedConfig) {
		// An unreadable document is treated like a fresh install.
		c.log.Error("discarding unreadable state", "path", cfgPath, "error", err)
		cfg, err = emptyConfig(cfgPath), nil
	}
	if err != nil {
		return nil, err
	}
	c.config = cfg

	reset := cfg.LastSeenInitialVersion != initial.Version()
	if reset {
		c.log.Info("initial version changed, resetting state",
			"previous", cfg.LastSeenInitialVersion, "initial", initial.Version())
		if err := cfg.ResetForInitialVersion(initial.Version(), initial.AppID(), initial.RootURL(), initial.CompatibilityVersion()); err != nil {
			return nil, err
		}
	}

	c.manager, err = manager.New(opts.StoreDir, initial, c, manager.Options{
		Client:      opts.Client,
		Concurrency: opts.Concurrency,
		Expect:      download.Expectations{AppID: cfg.AppID, RootURL: cfg.RootURL},
	})
	if err != nil {
		return nil, err
	}

	if reset {
		if err := c.manager.PruneExcept(); err != nil {
			c.log.Error("could not delete downloaded versions", "error", err)
		}
	}

	c.current = c.selectCurrent()
	c.log.Info("serving version", "version", c.current.Version(), "dir", c.current.Dir())
	return c, nil
}

// selectCurrent prefers the last downloaded version, falls back to the last
// known good one when it is blacklisted, and finally to the initial bundle.
func (c *Coordinator) selectCurrent() *bundle.Bundle {
	cfg := c.config
	if v := cfg.LastDownloadedVersion; v != "" {
		if !cfg.IsBlacklisted(v) {
			if b := c.manager.DownloadedBundle(v); b != nil {
				return b
			}
		} else if lkg := cfg.LastKnownGoodVersion; lkg != "" && !cfg.IsBlacklisted(lkg) {
			if b := c.manager.DownloadedBundle(lkg); b != nil {
				return b
			}
		}
	}
	return c.initial
}

// Start arms the startup watchdog for the current bundle.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armWatchdogLocked()
}

// Close stops the watchdog and any active download and waits for pruning.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.stopWatchdogLocked()
	c.mu.Unlock()

	c.manager.Cancel()
	c.cleanups.Wait()
}

// Current returns the bundle being served.
func (c *Coordinator) Current() *bundle.Bundle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Pending returns the bundle that becomes current on the next reload.
func (c *Coordinator) Pending() *bundle.Bundle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Initial returns the bundled initial version.
func (c *Coordinator) Initial() *bundle.Bundle {
	return c.initial
}

// Manager returns the bundle manager.
func (c *Coordinator) Manager() *manager.Manager {
	return c.manager
}

// UpdateURL returns the base URL the manifest and assets are fetched from.
func (c *Coordinator) UpdateURL() (string, error) {
	root := c.rootURLOverride
	if root == "" {
		root = c.Current().RootURL()
	}
	if root == "" {
		c.mu.Lock()
		root = c.config.RootURL
		c.mu.Unlock()
	}
	return UpdateURL(root)
}

// UpdateURL resolves the update directory against rootURL.
func UpdateURL(rootURL string) (string, error) {
	if rootURL == "" {
		return "", oerrors.Wrap(oerrors.ErrValidation, "no root URL to check for updates")
	}
	u, err := url.Parse(rootURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: invalid root URL %q", oerrors.ErrValidation, rootURL)
	}
	return u.ResolveReference(&url.URL{Path: UpdatePath}).String(), nil
}

// CheckForUpdates asks the manager to look for a new version.
func (c *Coordinator) CheckForUpdates(ctx context.Context) manager.CheckResult {
	c.setLastError(nil)
	base, err := c.UpdateURL()
	if err != nil {
		c.setLastError(err)
		c.notifier.Error(err.Error())
		return manager.CheckResult{Status: manager.StatusFailed}
	}
	c.log.Debug("checking for updates", "url", base)
	return c.manager.CheckForUpdates(ctx, base)
}

// ShouldDownloadBundleForManifest rejects the current, pending and
// blacklisted versions and, unless ignored, a compatibility mismatch.
func (c *Coordinator) ShouldDownloadBundleForManifest(m *manifest.Manifest) manager.Decision {
	c.mu.Lock()
	current, pending := c.current, c.pending
	blacklisted := c.config.IsBlacklisted(m.Version)
	compat := c.config.CordovaCompatibilityVersion
	c.mu.Unlock()

	switch {
	case m.Version == current.Version():
		c.log.Info("skipping downloading current version", "version", m.Version)
		return manager.Reject("current version")
	case pending != nil && m.Version == pending.Version():
		c.log.Info("skipping downloading pending version", "version", m.Version)
		return manager.Reject("pending version")
	case blacklisted:
		c.notifier.Error(fmt.Sprintf("Skipping downloading blacklisted version: %s", m.Version))
		return manager.Reject("blacklisted version")
	}

	if m.CompatibilityVersion != compat {
		msg := fmt.Sprintf("Skipping downloading version %s because its compatibility version %s differs from %s",
			m.Version, m.CompatibilityVersion, compat)
		if !c.ignoreCompatibility {
			c.notifier.Error(msg)
			return manager.Reject("incompatible version")
		}
		c.notifier.Warn(fmt.Sprintf("Downloading version %s although its compatibility version %s differs from %s",
			m.Version, m.CompatibilityVersion, compat))
		return manager.AcceptWithWarning("compatibility version mismatch ignored")
	}
	return manager.Accept()
}

// OnFinishedDownloadingAssetBundle makes b the pending bundle.
func (c *Coordinator) OnFinishedDownloadingAssetBundle(b *bundle.Bundle) {
	c.mu.Lock()
	if err := c.config.SetLastDownloadedVersion(b.Version()); err != nil {
		c.log.Error("could not save last downloaded version", "error", err)
	}
	c.pending = b
	c.mu.Unlock()

	c.log.Info("new version ready", "version", b.Version())
	c.notifier.NewVersionReady(b.Version(), b.DesktopVersion())
}

// OnError forwards a failed check or download to the notifier.
func (c *Coordinator) OnError(err error) {
	c.setLastError(err)
	c.notifier.Error(fmt.Sprintf("Download failure: %v", err))
}

// LastError returns the failure of the most recent check or download, if
// any.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Coordinator) setLastError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

// ApplyPending makes the pending bundle current, re-arms the watchdog and
// reloads. It reports whether there was a pending bundle.
func (c *Coordinator) ApplyPending() bool {
	c.mu.Lock()
	b := c.promotePendingLocked()
	c.mu.Unlock()

	if b == nil {
		return false
	}
	c.reload(b)
	return true
}

func (c *Coordinator) promotePendingLocked() *bundle.Bundle {
	b := c.pending
	if b == nil {
		return nil
	}
	c.current = b
	c.pending = nil
	c.armWatchdogLocked()
	return b
}

func (c *Coordinator) reload(b *bundle.Bundle) {
	c.log.Info("reloading", "version", b.Version())
	if c.reloader != nil {
		c.reloader.Reload(b)
	}
}

// StartupDidComplete records the current version as known good, stops the
// watchdog and prunes every other downloaded version in the background.
// done, if not nil, receives the pruning result.
func (c *Coordinator) StartupDidComplete(done func(error)) {
	c.mu.Lock()
	c.stopWatchdogLocked()
	version := c.current.Version()
	if err := c.config.SetLastKnownGoodVersion(version); err != nil {
		c.log.Error("could not save last known good version", "error", err)
	}
	if err := c.config.RemoveBlacklistedVersion(version); err != nil {
		c.log.Error("could not update blacklist", "error", err)
	}
	c.mu.Unlock()

	c.log.Info("startup completed", "version", version)

	c.cleanups.Add(1)
	go func() {
		defer c.cleanups.Done()
		err := c.manager.PruneExceptFunc(c.servingVersions)
		c.notifier.VersionsCleanedUp(err)
		if done != nil {
			done(err)
		}
	}()
}

// servingVersions returns the current version and the pending one, if any.
func (c *Coordinator) servingVersions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keep := []string{c.current.Version()}
	if c.pending != nil {
		keep = append(keep, c.pending.Version())
	}
	return keep
}

func (c *Coordinator) armWatchdogLocked() {
	c.stopWatchdogLocked()
	gen := c.generation
	c.timer = time.AfterFunc(c.timeout, func() { c.startupTimedOut(gen) })
}

func (c *Coordinator) stopWatchdogLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.generation++
}

// startupTimedOut blacklists the current version and reverts to the last
// known good version, or to the initial bundle.
func (c *Coordinator) startupTimedOut(gen uint64) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.generation++

	current := c.current
	initialVersion := c.initial.Version()
	c.log.Warn("startup timed out", "version", current.Version(), "timeout", c.timeout)

	if current.Version() != initialVersion {
		if err := c.config.AddBlacklistedVersion(current.Version()); err != nil {
			c.log.Error("could not update blacklist", "error", err)
		}
	}

	var revert *bundle.Bundle
	if lkg := c.config.LastKnownGoodVersion; lkg != "" && lkg != current.Version() && lkg != initialVersion {
		revert = c.manager.DownloadedBundle(lkg)
	}
	if revert == nil && current.Version() != initialVersion {
		revert = c.initial
	}

	var b *bundle.Bundle
	if revert != nil {
		c.pending = revert
		b = c.promotePendingLocked()
	}
	c.mu.Unlock()

	if b != nil {
		c.reload(b)
	}
}

// Status is a snapshot of the coordinator state.
type Status struct {
	InitialVersion        string   `json:"initialVersion" yaml:"initialVersion"`
	CurrentVersion        string   `json:"currentVersion" yaml:"currentVersion"`
	PendingVersion        string   `json:"pendingVersion,omitempty" yaml:"pendingVersion,omitempty"`
	DownloadingVersion    string   `json:"downloadingVersion,omitempty" yaml:"downloadingVersion,omitempty"`
	ManagerState          string   `json:"managerState" yaml:"managerState"`
	LastDownloadedVersion string   `json:"lastDownloadedVersion,omitempty" yaml:"lastDownloadedVersion,omitempty"`
	LastKnownGoodVersion  string   `json:"lastKnownGoodVersion,omitempty" yaml:"lastKnownGoodVersion,omitempty"`
	BlacklistedVersions   []string `json:"blacklistedVersions" yaml:"blacklistedVersions"`
	DownloadedVersions    []string `json:"downloadedVersions" yaml:"downloadedVersions"`
	AppID                 string   `json:"appId,omitempty" yaml:"appId,omitempty"`
	RootURL               string   `json:"rootUrl,omitempty" yaml:"rootUrl,omitempty"`
	CompatibilityVersion  string   `json:"compatibilityVersion,omitempty" yaml:"compatibilityVersion,omitempty"`
	WatchdogArmed         bool     `json:"watchdogArmed" yaml:"watchdogArmed"`
}

// Status returns a snapshot of the coordinator state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	s := Status{
		InitialVersion:        c.initial.Version(),
		CurrentVersion:        c.current.Version(),
		LastDownloadedVersion: c.config.LastDownloadedVersion,
		LastKnownGoodVersion:  c.config.LastKnownGoodVersion,
		BlacklistedVersions:   slices.Clone(c.config.BlacklistedVersions),
		AppID:                 c.config.AppID,
		RootURL:               c.config.RootURL,
		CompatibilityVersion:  c.config.CordovaCompatibilityVersion,
		WatchdogArmed:         c.timer != nil,
	}
	if c.pending != nil {
		s.PendingVersion = c.pending.Version()
	}
	c.mu.Unlock()

	s.DownloadingVersion = c.manager.DownloadingVersion()
	s.ManagerState = c.manager.State().String()
	s.DownloadedVersions = c.manager.DownloadedVersions()
	return s
}
