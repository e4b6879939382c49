// Package config provides configuration loading and management.
package config

import (
	"time"
)

// Default values for settings that are not configured.
const (
	DefaultStartupTimeout      = 20 * time.Second
	DefaultDownloadConcurrency = 6
	DefaultDownloadTimeout     = 60 * time.Second
	DefaultServerAddr          = "127.0.0.1:8080"
)

// BundleConfig locates the bundled initial version.
type BundleConfig struct {
	// Initial is the directory of the unpacked initial bundle that ships
	// with the host. Env: HCP_BUNDLE_INITIAL
	Initial string `mapstructure:"initial" json:"initial,omitempty" yaml:"initial,omitempty"`
}

// StoreConfig locates downloaded versions.
type StoreConfig struct {
	// Dir holds versions/<version>. Env: HCP_STORE_DIR, Default: ~/.hcp/store
	Dir string `mapstructure:"dir" json:"dir,omitempty" yaml:"dir,omitempty"`
}

// DataConfig locates the durable update state.
type DataConfig struct {
	// Dir holds autoupdate.json. Env: HCP_DATA_DIR, Default: ~/.hcp/data
	Dir string `mapstructure:"dir" json:"dir,omitempty" yaml:"dir,omitempty"`
}

// UpdateConfig controls update checks.
type UpdateConfig struct {
	// RootURL overrides the root URL of the initial bundle.
	// Env: HCP_UPDATE_ROOTURL
	RootURL string `mapstructure:"rootUrl" json:"rootUrl,omitempty" yaml:"rootUrl,omitempty"`

	// IgnoreCompatibility downloads versions whose compatibility version
	// differs, with a warning. Env: HCP_UPDATE_IGNORECOMPATIBILITY
	IgnoreCompatibility bool `mapstructure:"ignoreCompatibility" json:"ignoreCompatibility" yaml:"ignoreCompatibility"`
}

// StartupConfig controls the startup watchdog.
type StartupConfig struct {
	// Timeout is how long a new version has to report a successful start.
	Timeout time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
}

// DownloadConfig controls asset fetching.
type DownloadConfig struct {
	Concurrency int           `mapstructure:"concurrency" json:"concurrency" yaml:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
}

// ServerConfig controls the local bundle server.
type ServerConfig struct {
	Addr string `mapstructure:"addr" json:"addr" yaml:"addr"`
}

// LogConfig contains logging-related settings.
type LogConfig struct {
	// Timestamps controls whether timestamps are shown in log output.
	// Default: true. Override with --timestamps flag.
	Timestamps *bool `mapstructure:"timestamps" json:"timestamps,omitempty" yaml:"timestamps,omitempty"`
}

// Config represents the hcp operator settings.
// Loaded from ~/.hcp/config.yaml, overridden by HCP_* environment variables
// and command-line flags.
type Config struct {
	Bundle   BundleConfig   `mapstructure:"bundle" json:"bundle" yaml:"bundle"`
	Store    StoreConfig    `mapstructure:"store" json:"store" yaml:"store"`
	Data     DataConfig     `mapstructure:"data" json:"data" yaml:"data"`
	Update   UpdateConfig   `mapstructure:"update" json:"update" yaml:"update"`
	Startup  StartupConfig  `mapstructure:"startup" json:"startup" yaml:"startup"`
	Download DownloadConfig `mapstructure:"download" json:"download" yaml:"download"`
	Server   ServerConfig   `mapstructure:"server" json:"server" yaml:"server"`
	Log      LogConfig      `mapstructure:"log" json:"log" yaml:"log"`
}

// DefaultConfig returns a Config with all default values populated.
// Used by `hcp config init` to generate the initial config file.
func DefaultConfig() *Config {
	return &Config{
		Store:    StoreConfig{Dir: "~/.hcp/store"},
		Data:     DataConfig{Dir: "~/.hcp/data"},
		Startup:  StartupConfig{Timeout: DefaultStartupTimeout},
		Download: DownloadConfig{Concurrency: DefaultDownloadConcurrency, Timeout: DefaultDownloadTimeout},
		Server:   ServerConfig{Addr: DefaultServerAddr},
	}
}

// ExpandPaths returns a copy with ~ expanded in every directory setting.
func (c *Config) ExpandPaths() (*Config, error) {
	out := *c
	for _, p := range []*string{&out.Bundle.Initial, &out.Store.Dir, &out.Data.Dir} {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return nil, err
		}
		*p = expanded
	}
	return &out, nil
}

// Timestamps reports whether log lines carry timestamps.
func (c *Config) Timestamps() bool {
	return c.Log.Timestamps == nil || *c.Log.Timestamps
}
