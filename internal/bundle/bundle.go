// Package bundle models one unpacked version of the served web application
// and the assets it owns relative to its parent bundle.
package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	oerrors "github.com/opmodel/hcp/internal/errors"
	"github.com/opmodel/hcp/internal/manifest"
)

const (
	// ManifestFileName is the manifest copy kept in every bundle directory.
	ManifestFileName = "program.json"

	// IndexFilePath is the file path of the synthetic index page asset.
	IndexFilePath = "index.html"

	// IndexURLPath is the URL path the index page is served under.
	IndexURLPath = "/"
)

// Stage is the lifecycle stage of a bundle's directory.
type Stage int

const (
	// StageBundled is the read-only initial version shipped with the host.
	StageBundled Stage = iota
	// StageScratch is a bundle being downloaded into the scratch directory.
	StageScratch
	// StagePartialRecovered is an interrupted download reopened as a cache source.
	StagePartialRecovered
	// StageCommitted is a fully downloaded bundle in its version directory.
	StageCommitted
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageBundled:
		return "bundled"
	case StageScratch:
		return "scratch"
	case StagePartialRecovered:
		return "partial"
	case StageCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

// Bundle is one on-disk version of the application.
//
// Its index holds only the assets it owns: a manifest entry that the parent
// bundle can already satisfy (same URL path with a matching hash, or a
// cacheable parent asset when no hash is requested) is left out.
type Bundle struct {
	mu    sync.RWMutex
	dir   string
	stage Stage

	manifest *manifest.Manifest
	parent   *Bundle

	ownAssets []*Asset
	byURLPath map[string]*Asset
	indexPage *Asset

	runtimeConfig *RuntimeConfig
}

// Option configures a Bundle.
type Option func(*Bundle)

// WithParent sets the parent bundle used for deduplication. The parent is
// not owned by the child.
func WithParent(parent *Bundle) Option {
	return func(b *Bundle) {
		b.parent = parent
	}
}

// WithStage sets the lifecycle stage. Defaults to StageCommitted.
func WithStage(stage Stage) Option {
	return func(b *Bundle) {
		b.stage = stage
	}
}

// New creates a bundle rooted at dir. When m is nil the manifest is loaded
// from dir/program.json.
func New(dir string, m *manifest.Manifest, opts ...Option) (*Bundle, error) {
	b := &Bundle{
		dir:       dir,
		stage:     StageCommitted,
		byURLPath: make(map[string]*Asset),
	}
	for _, opt := range opts {
		opt(b)
	}

	if m == nil {
		loaded, err := LoadManifest(dir)
		if err != nil {
			return nil, err
		}
		m = loaded
	}
	b.manifest = m

	for _, e := range m.Entries {
		if !b.parentHas(e.URLPath, e.Hash) {
			b.addAsset(&Asset{
				FilePath:  e.FilePath,
				URLPath:   e.URLPath,
				FileType:  e.FileType,
				Size:      e.Size,
				Cacheable: e.Cacheable,
				Hash:      e.Hash,
			})
		}

		if e.HasSourceMap() && !b.parentHas(e.SourceMapURLPath, "") {
			b.addAsset(&Asset{
				FilePath:  e.SourceMapFilePath,
				URLPath:   e.SourceMapURLPath,
				FileType:  "json",
				Cacheable: true,
			})
		}
	}

	b.indexPage = &Asset{
		FilePath: IndexFilePath,
		URLPath:  IndexURLPath,
		FileType: "html",
	}
	b.addAsset(b.indexPage)

	return b, nil
}

// LoadManifest reads and parses dir/program.json.
func LoadManifest(dir string) (*manifest.Manifest, error) {
	path := filepath.Join(dir, ManifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", oerrors.ErrFilesystem, path, err)
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return m, nil
}

func (b *Bundle) parentHas(urlPath, hash string) bool {
	return b.parent != nil && b.parent.CachedAssetForURLPath(urlPath, hash) != nil
}

func (b *Bundle) addAsset(a *Asset) {
	a.bundle = b
	if prev, ok := b.byURLPath[a.URLPath]; ok {
		for i, existing := range b.ownAssets {
			if existing == prev {
				b.ownAssets = append(b.ownAssets[:i], b.ownAssets[i+1:]...)
				break
			}
		}
	}
	b.ownAssets = append(b.ownAssets, a)
	b.byURLPath[a.URLPath] = a
}

// Dir returns the bundle's current directory.
func (b *Bundle) Dir() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dir
}

// Stage returns the bundle's lifecycle stage.
func (b *Bundle) Stage() Stage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stage
}

// Manifest returns the parsed manifest.
func (b *Bundle) Manifest() *manifest.Manifest {
	return b.manifest
}

// Version returns the bundle version.
func (b *Bundle) Version() string {
	return b.manifest.Version
}

// CompatibilityVersion returns the bundle's compatibility version.
func (b *Bundle) CompatibilityVersion() string {
	return b.manifest.CompatibilityVersion
}

// Parent returns the parent bundle, or nil.
func (b *Bundle) Parent() *Bundle {
	return b.parent
}

// OwnAssets returns the assets this bundle owns, index page included.
func (b *Bundle) OwnAssets() []*Asset {
	out := make([]*Asset, len(b.ownAssets))
	copy(out, b.ownAssets)
	return out
}

// IndexPage returns the synthetic index page asset.
func (b *Bundle) IndexPage() *Asset {
	return b.indexPage
}

// OwnAssetForURLPath returns the owned asset served at urlPath, or nil.
func (b *Bundle) OwnAssetForURLPath(urlPath string) *Asset {
	return b.byURLPath[urlPath]
}

// AssetForURLPath returns the asset served at urlPath, consulting the parent
// chain when this bundle does not own it.
func (b *Bundle) AssetForURLPath(urlPath string) *Asset {
	if a := b.byURLPath[urlPath]; a != nil {
		return a
	}
	if b.parent != nil {
		return b.parent.AssetForURLPath(urlPath)
	}
	return nil
}

// CachedAssetForURLPath returns the owned asset at urlPath when it can be
// reused for a request with the given hash. An empty hash matches only
// cacheable assets.
func (b *Bundle) CachedAssetForURLPath(urlPath, hash string) *Asset {
	a := b.byURLPath[urlPath]
	if a == nil || !a.cacheableFor(hash) {
		return nil
	}
	return a
}

// RuntimeConfig returns the runtime configuration embedded in the index page,
// or nil when the page is missing or carries no parsable blob. A successful
// read is memoized.
func (b *Bundle) RuntimeConfig() *RuntimeConfig {
	cfg, _ := b.LoadRuntimeConfig()
	return cfg
}

// LoadRuntimeConfig is RuntimeConfig with the failure cause.
func (b *Bundle) LoadRuntimeConfig() (*RuntimeConfig, error) {
	b.mu.RLock()
	cfg := b.runtimeConfig
	b.mu.RUnlock()
	if cfg != nil {
		return cfg, nil
	}

	cfg, err := loadRuntimeConfig(b.indexPage.File())
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.runtimeConfig = cfg
	b.mu.Unlock()
	return cfg, nil
}

// AppID returns the application id from the runtime config.
func (b *Bundle) AppID() string {
	if cfg := b.RuntimeConfig(); cfg != nil {
		return cfg.AppID
	}
	return ""
}

// RootURL returns the canonical root URL from the runtime config.
func (b *Bundle) RootURL() string {
	if cfg := b.RuntimeConfig(); cfg != nil {
		return cfg.RootURL
	}
	return ""
}

// DesktopVersion returns the host shell version advertised by the runtime
// config, or "".
func (b *Bundle) DesktopVersion() string {
	if cfg := b.RuntimeConfig(); cfg != nil {
		return cfg.DesktopVersion
	}
	return ""
}

// DidMoveToDirectory rebinds the bundle to dir after its directory was
// renamed. The manifest and asset index are kept as they are.
func (b *Bundle) DidMoveToDirectory(dir string, stage Stage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dir = dir
	b.stage = stage
}
