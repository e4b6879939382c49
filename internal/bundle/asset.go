package bundle

import (
	"path/filepath"
)

// Asset is a manifest entry bound to the bundle that owns it. Assets are
// immutable; identity for deduplication is (URLPath, Hash).
type Asset struct {
	bundle *Bundle

	FilePath  string
	URLPath   string
	FileType  string
	Size      int64
	Cacheable bool
	Hash      string
}

// Bundle returns the bundle that owns the asset.
func (a *Asset) Bundle() *Bundle {
	return a.bundle
}

// File returns the absolute path of the asset inside its bundle's current
// directory. It follows the bundle across DidMoveToDirectory.
func (a *Asset) File() string {
	return filepath.Join(a.bundle.Dir(), filepath.FromSlash(a.FilePath))
}

// IsIndexPage reports whether the asset is the bundle's synthetic index page.
func (a *Asset) IsIndexPage() bool {
	return a.FilePath == IndexFilePath
}

// cacheableFor reports whether a can stand in for a request of the given hash.
// An unhashed request is satisfied by any cacheable asset; a hashed request
// needs an equal hash.
func (a *Asset) cacheableFor(hash string) bool {
	if hash == "" {
		return a.Cacheable
	}
	return a.Hash != "" && a.Hash == hash
}
