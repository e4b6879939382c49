package hcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	oerrors "github.com/opmodel/hcp/internal/errors"
	"github.com/opmodel/hcp/internal/fsutil"
)

// ConfigFileName is the durable state document inside the data directory.
const ConfigFileName = "autoupdate.json"

// ErrMalformedConfig marks a state document that exists but cannot be decoded.
var ErrMalformedConfig = errors.New("malformed state document")

// Config is the durable hot-code-push state of one installation. Fields are
// read directly; every setter flushes the whole document to disk before
// returning. Config is not safe for concurrent use.
type Config struct {
	AppID                       string   `json:"appId,omitempty"`
	RootURL                     string   `json:"rootUrl,omitempty"`
	CordovaCompatibilityVersion string   `json:"cordovaCompatibilityVersion,omitempty"`
	BlacklistedVersions         []string `json:"blacklistedVersions"`
	LastDownloadedVersion       string   `json:"lastDownloadedVersion,omitempty"`
	LastKnownGoodVersion        string   `json:"lastKnownGoodVersion,omitempty"`
	LastSeenInitialVersion      string   `json:"lastSeenInitialVersion,omitempty"`

	path string
}

// LoadConfig reads the document at path. A missing file yields an empty
// config that is written out immediately.
func LoadConfig(path string) (*Config, error) {
	c := emptyConfig(path)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, c.Save()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", oerrors.ErrFilesystem, path, err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("%w: %w: parsing %s: %v", oerrors.ErrValidation, ErrMalformedConfig, path, err)
	}
	if c.BlacklistedVersions == nil {
		c.BlacklistedVersions = []string{}
	}
	return c, nil
}

func emptyConfig(path string) *Config {
	return &Config{path: path, BlacklistedVersions: []string{}}
}

// Path returns the document location.
func (c *Config) Path() string {
	return c.path
}

// Save writes the whole document.
func (c *Config) Save() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := fsutil.WriteFileAtomic(c.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("%w: writing %s: %w", oerrors.ErrFilesystem, c.path, err)
	}
	return nil
}

// IsBlacklisted reports whether version failed to start before.
func (c *Config) IsBlacklisted(version string) bool {
	return slices.Contains(c.BlacklistedVersions, version)
}

// AddBlacklistedVersion records version once.
func (c *Config) AddBlacklistedVersion(version string) error {
	if c.IsBlacklisted(version) {
		return nil
	}
	c.BlacklistedVersions = append(c.BlacklistedVersions, version)
	return c.Save()
}

// RemoveBlacklistedVersion forgets version if present.
func (c *Config) RemoveBlacklistedVersion(version string) error {
	i := slices.Index(c.BlacklistedVersions, version)
	if i < 0 {
		return nil
	}
	c.BlacklistedVersions = slices.Delete(c.BlacklistedVersions, i, i+1)
	return c.Save()
}

func (c *Config) SetAppID(v string) error {
	c.AppID = v
	return c.Save()
}

func (c *Config) SetRootURL(v string) error {
	c.RootURL = v
	return c.Save()
}

func (c *Config) SetCompatibilityVersion(v string) error {
	c.CordovaCompatibilityVersion = v
	return c.Save()
}

func (c *Config) SetLastDownloadedVersion(v string) error {
	c.LastDownloadedVersion = v
	return c.Save()
}

func (c *Config) SetLastKnownGoodVersion(v string) error {
	c.LastKnownGoodVersion = v
	return c.Save()
}

// ResetForInitialVersion forgets every downloaded version after the host was
// installed with a new initial bundle and re-seeds the application identity.
func (c *Config) ResetForInitialVersion(initialVersion, appID, rootURL, compatibility string) error {
	c.AppID = appID
	c.RootURL = rootURL
	c.CordovaCompatibilityVersion = compatibility
	c.BlacklistedVersions = []string{}
	c.LastDownloadedVersion = ""
	c.LastKnownGoodVersion = ""
	c.LastSeenInitialVersion = initialVersion
	return c.Save()
}
