package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	// envPrefix prefixes every environment variable; "." becomes "_".
	envPrefix = "HCP"
	// envConfig overrides the config file location.
	envConfig = "HCP_CONFIG"
)

// Setting keys.
const (
	KeyBundleInitial             = "bundle.initial"
	KeyStoreDir                  = "store.dir"
	KeyDataDir                   = "data.dir"
	KeyUpdateRootURL             = "update.rootUrl"
	KeyUpdateIgnoreCompatibility = "update.ignoreCompatibility"
	KeyStartupTimeout            = "startup.timeout"
	KeyDownloadConcurrency       = "download.concurrency"
	KeyDownloadTimeout           = "download.timeout"
	KeyServerAddr                = "server.addr"
	KeyLogTimestamps             = "log.timestamps"
)

// Keys lists every setting in display order.
var Keys = []string{
	KeyBundleInitial,
	KeyStoreDir,
	KeyDataDir,
	KeyUpdateRootURL,
	KeyUpdateIgnoreCompatibility,
	KeyStartupTimeout,
	KeyDownloadConcurrency,
	KeyDownloadTimeout,
	KeyServerAddr,
	KeyLogTimestamps,
}

// Loader handles loading and merging configuration from multiple sources.
type Loader struct {
	v     *viper.Viper
	flags map[string]any
}

// NewLoader creates a new configuration loader with defaults and
// environment bindings in place.
func NewLoader() *Loader {
	v := viper.New()

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	v.SetDefault(KeyBundleInitial, "")
	v.SetDefault(KeyStoreDir, d.Store.Dir)
	v.SetDefault(KeyDataDir, d.Data.Dir)
	v.SetDefault(KeyUpdateRootURL, "")
	v.SetDefault(KeyUpdateIgnoreCompatibility, false)
	v.SetDefault(KeyStartupTimeout, d.Startup.Timeout)
	v.SetDefault(KeyDownloadConcurrency, d.Download.Concurrency)
	v.SetDefault(KeyDownloadTimeout, d.Download.Timeout)
	v.SetDefault(KeyServerAddr, d.Server.Addr)
	v.SetDefault(KeyLogTimestamps, true)

	return &Loader{v: v, flags: map[string]any{}}
}

// SetFlag records a command-line override; it wins over every other source.
func (l *Loader) SetFlag(key string, value any) {
	l.flags[key] = value
	l.v.Set(key, value)
}

// Load loads configuration from the given file path.
// If configFile is empty, it uses the default config file path.
// A missing file is not an error.
func (l *Loader) Load(configFile string) (*Config, error) {
	if configFile == "" {
		var err error
		configFile, err = GetConfigFile()
		if err != nil {
			return nil, fmt.Errorf("getting config file path: %w", err)
		}
	}

	expandedPath, err := ExpandPath(configFile)
	if err != nil {
		return nil, fmt.Errorf("expanding config path: %w", err)
	}

	l.v.SetConfigFile(expandedPath)
	l.v.SetConfigType("yaml")

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// ConfigFileUsed returns the file Load read from, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Resolved reports each setting's value and the source it came from.
func (l *Loader) Resolved() []ResolvedValue {
	values := make([]ResolvedValue, 0, len(Keys))
	for _, key := range Keys {
		rv := ResolvedValue{
			Key:      key,
			Value:    l.v.Get(key),
			Source:   SourceDefault,
			Shadowed: map[ConfigSource]any{},
		}

		envValue, envSet := os.LookupEnv(EnvName(key))
		inFile := l.v.InConfig(key)
		flagValue, flagSet := l.flags[key]

		switch {
		case flagSet:
			rv.Source = SourceFlag
			rv.Value = flagValue
			if envSet {
				rv.Shadowed[SourceEnv] = envValue
			}
			if inFile {
				rv.Shadowed[SourceConfig] = "(config file)"
			}
		case envSet:
			rv.Source = SourceEnv
			if inFile {
				rv.Shadowed[SourceConfig] = "(config file)"
			}
		case inFile:
			rv.Source = SourceConfig
		}
		values = append(values, rv)
	}
	return values
}

// EnvName returns the environment variable bound to key.
func EnvName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// ConfigFileExists checks if the config file exists.
func ConfigFileExists(configFile string) (bool, error) {
	if configFile == "" {
		var err error
		configFile, err = GetConfigFile()
		if err != nil {
			return false, err
		}
	}

	expandedPath, err := ExpandPath(configFile)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(expandedPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}
