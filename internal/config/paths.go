package config

import (
	"os"
	"path/filepath"
)

// Paths contains standard filesystem paths for hcp.
type Paths struct {
	// ConfigFile is the path to the config file (~/.hcp/config.yaml).
	ConfigFile string

	// StoreDir is the default bundle store (~/.hcp/store).
	StoreDir string

	// DataDir is the default location of autoupdate.json (~/.hcp/data).
	DataDir string

	// HomeDir is the hcp home directory (~/.hcp).
	HomeDir string
}

// DefaultPaths returns the default paths for hcp.
func DefaultPaths() (*Paths, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	hcpHome := filepath.Join(homeDir, ".hcp")

	return &Paths{
		ConfigFile: filepath.Join(hcpHome, "config.yaml"),
		StoreDir:   filepath.Join(hcpHome, "store"),
		DataDir:    filepath.Join(hcpHome, "data"),
		HomeDir:    hcpHome,
	}, nil
}

// GetConfigFile returns the config file path.
// If HCP_CONFIG is set, it takes precedence.
func GetConfigFile() (string, error) {
	if envPath := os.Getenv(envConfig); envPath != "" {
		return envPath, nil
	}

	paths, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	return paths.ConfigFile, nil
}

// EnsureDir creates dir (after ~ expansion) if it doesn't exist.
func EnsureDir(dir string) error {
	expanded, err := ExpandPath(dir)
	if err != nil {
		return err
	}
	return os.MkdirAll(expanded, 0o755)
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if len(path) == 0 {
		return path, nil
	}

	if path[0] != '~' {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if len(path) == 1 {
		return homeDir, nil
	}

	// Handle ~/path/to/something
	if path[1] == '/' || path[1] == filepath.Separator {
		return filepath.Join(homeDir, path[2:]), nil
	}

	// Handle ~username (not supported, return as-is)
	return path, nil
}
