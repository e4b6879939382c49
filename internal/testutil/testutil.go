// Package testutil provides fixture helpers for hot-code-push tests.
package testutil

import (
	"crypto/sha1" //nolint:gosec // matches the content-addressed ETag scheme of the served bundles
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"testing"
)

// File is one asset of a fixture bundle.
type File struct {
	// Path is the file path relative to the bundle directory.
	Path string
	// URL is the URL path. Defaults to "/" + Path.
	URL string
	// Type is the manifest type tag. Defaults to "js".
	Type string
	// Content is the file body.
	Content string
	// Cacheable marks the entry cacheable.
	Cacheable bool
	// NoHash omits the hash from the manifest entry.
	NoHash bool
	// Where overrides the manifest "where" tag. Defaults to "client".
	Where string
	// SkipWrite leaves the file out of the bundle directory.
	SkipWrite bool
}

// URLPath returns the file's URL path.
func (f File) URLPath() string {
	if f.URL != "" {
		return f.URL
	}
	return "/" + f.Path
}

// Hash returns the SHA1 content hash used in the manifest.
func (f File) Hash() string {
	return Hash(f.Content)
}

// Fixture describes a bundle version on disk.
type Fixture struct {
	Version string
	// Compat is the compatibility version. Defaults to "1".
	Compat string
	// AppID is embedded in the index page runtime config.
	AppID string
	// RootURL is embedded in the index page runtime config.
	RootURL string
	// OmitIndexVersion leaves autoupdateVersionCordova out of the runtime config.
	OmitIndexVersion bool
	// RuntimeConfig holds extra runtime config keys; they override the defaults.
	RuntimeConfig map[string]any
	Files         []File
}

// Hash returns the hex SHA1 of content.
func Hash(content string) string {
	sum := sha1.Sum([]byte(content)) //nolint:gosec // content addressing, not security
	return hex.EncodeToString(sum[:])
}

// ManifestJSON renders the fixture's manifest.json document.
func (f Fixture) ManifestJSON() []byte {
	compat := f.Compat
	if compat == "" {
		compat = "1"
	}

	entries := make([]map[string]any, 0, len(f.Files))
	for _, file := range f.Files {
		typ := file.Type
		if typ == "" {
			typ = "js"
		}
		where := file.Where
		if where == "" {
			where = "client"
		}
		e := map[string]any{
			"path":      file.Path,
			"url":       file.URLPath(),
			"type":      typ,
			"size":      len(file.Content),
			"cacheable": file.Cacheable,
			"where":     where,
		}
		if !file.NoHash {
			e["hash"] = file.Hash()
		}
		entries = append(entries, e)
	}

	doc := map[string]any{
		"format":                       "web-program-pre1",
		"version":                      f.Version,
		"cordovaCompatibilityVersions": map[string]string{"android": compat, "ios": compat},
		"manifest":                     entries,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return data
}

// IndexHTML renders an index page embedding the fixture's runtime config.
func (f Fixture) IndexHTML() []byte {
	values := map[string]any{
		"ROOT_URL": f.RootURL,
		"appId":    f.AppID,
	}
	if !f.OmitIndexVersion {
		values["autoupdateVersionCordova"] = f.Version
	}
	for k, v := range f.RuntimeConfig {
		if v == nil {
			delete(values, k)
			continue
		}
		values[k] = v
	}
	return IndexHTMLWithConfig(values)
}

// IndexHTMLWithConfig renders an index page embedding values.
func IndexHTMLWithConfig(values map[string]any) []byte {
	raw, err := json.Marshal(values)
	if err != nil {
		panic(err)
	}
	return []byte(fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<script type="text/javascript">__meteor_runtime_config__ = JSON.parse(decodeURIComponent("%s"))</script>
</head>
<body></body>
</html>
`, url.PathEscape(string(raw))))
}

// Write materializes the fixture in dir (program.json, index.html and every
// file not marked SkipWrite) and returns dir.
func (f Fixture) Write(t *testing.T, dir string) string {
	t.Helper()
	WriteFile(t, filepath.Join(dir, "program.json"), f.ManifestJSON())
	WriteFile(t, filepath.Join(dir, "index.html"), f.IndexHTML())
	for _, file := range f.Files {
		if file.SkipWrite {
			continue
		}
		WriteFile(t, filepath.Join(dir, filepath.FromSlash(file.Path)), []byte(file.Content))
	}
	return dir
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// ReadFile returns the contents of path, failing the test on error.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}
