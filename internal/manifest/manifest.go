// Package manifest parses the asset manifest (program.json / manifest.json)
// that describes one version of a served web bundle.
package manifest

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	oerrors "github.com/opmodel/hcp/internal/errors"
)

// FormatWebProgramPre1 is the only manifest format tag understood. A manifest
// without a format tag is treated as this format.
const FormatWebProgramPre1 = "web-program-pre1"

// whereClient marks entries that belong to the browser-served bundle.
const whereClient = "client"

// Entry is one file of the bundle as described by the manifest.
type Entry struct {
	// FilePath is the path of the file relative to the bundle directory.
	FilePath string
	// URLPath is the public path the file is served under.
	URLPath string
	// FileType is the manifest's content type tag (js, css, html, asset, ...).
	FileType string
	// Size is the expected byte size.
	Size int64
	// Cacheable reports whether the file may be reused across versions
	// without a hash match.
	Cacheable bool
	// Hash is the expected content hash. Empty when the manifest omits it.
	Hash string
	// SourceMapFilePath is the optional source map sibling's file path.
	SourceMapFilePath string
	// SourceMapURLPath is the optional source map sibling's URL path.
	SourceMapURLPath string
}

// HasSourceMap reports whether the entry carries a source map sibling.
func (e Entry) HasSourceMap() bool {
	return e.SourceMapFilePath != "" && e.SourceMapURLPath != ""
}

// Manifest is a parsed and validated asset manifest.
type Manifest struct {
	// Format is the manifest format tag.
	Format string
	// Version identifies the bundle version.
	Version string
	// CompatibilityVersion identifies the host shell compatibility level the
	// bundle was built against.
	CompatibilityVersion string
	// Entries lists the client entries in manifest order.
	Entries []Entry
}

// wireManifest mirrors the JSON document served at manifest.json.
type wireManifest struct {
	Format                       *string           `json:"format"`
	Version                      *string           `json:"version"`
	CordovaCompatibilityVersions map[string]string `json:"cordovaCompatibilityVersions"`
	Manifest                     []wireEntry       `json:"manifest"`
}

type wireEntry struct {
	Path         string  `json:"path"`
	URL          string  `json:"url"`
	Type         string  `json:"type"`
	Size         int64   `json:"size"`
	Cacheable    bool    `json:"cacheable"`
	Hash         *string `json:"hash"`
	SourceMap    string  `json:"sourceMap"`
	SourceMapURL string  `json:"sourceMapUrl"`
	Where        string  `json:"where"`
}

// compatibilityPlatform selects the entry of cordovaCompatibilityVersions used
// as the bundle's compatibility version.
const compatibilityPlatform = "android"

// Parse decodes and validates raw manifest bytes. It never returns a partial
// manifest: any error leaves the result nil.
func Parse(data []byte) (*Manifest, error) {
	var w wireManifest
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", oerrors.ErrManifest, err)
	}

	format := FormatWebProgramPre1
	if w.Format != nil {
		format = *w.Format
		if format != FormatWebProgramPre1 {
			return nil, fmt.Errorf("%w: the asset manifest format is incompatible: %q", oerrors.ErrManifest, format)
		}
	}

	if w.Version == nil || *w.Version == "" {
		return nil, fmt.Errorf("%w: asset manifest does not have a version", oerrors.ErrManifest)
	}

	compat, ok := w.CordovaCompatibilityVersions[compatibilityPlatform]
	if !ok || compat == "" {
		return nil, fmt.Errorf("%w: asset manifest does not have a cordovaCompatibilityVersion", oerrors.ErrManifest)
	}

	entries := make([]Entry, 0, len(w.Manifest))
	for _, we := range w.Manifest {
		if we.Where != whereClient {
			continue
		}
		if !localPath(we.Path) {
			return nil, fmt.Errorf("%w: asset path %q is outside the bundle", oerrors.ErrManifest, we.Path)
		}
		if we.SourceMap != "" && !localPath(we.SourceMap) {
			return nil, fmt.Errorf("%w: source map path %q is outside the bundle", oerrors.ErrManifest, we.SourceMap)
		}
		e := Entry{
			FilePath:          we.Path,
			URLPath:           we.URL,
			FileType:          we.Type,
			Size:              we.Size,
			Cacheable:         we.Cacheable,
			SourceMapFilePath: we.SourceMap,
			SourceMapURLPath:  we.SourceMapURL,
		}
		if we.Hash != nil {
			e.Hash = *we.Hash
		}
		entries = append(entries, e)
	}

	return &Manifest{
		Format:               format,
		Version:              *w.Version,
		CompatibilityVersion: compat,
		Entries:              entries,
	}, nil
}

// localPath reports whether a manifest file path stays below the bundle
// directory once converted to an OS path.
func localPath(p string) bool {
	return filepath.IsLocal(filepath.FromSlash(p))
}
