package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

const maxDownloadConcurrency = 64

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString("config validation failed:\n")
	for _, err := range e {
		sb.WriteString(fmt.Sprintf("  %s: %s\n", err.Field, err.Message))
	}
	return sb.String()
}

// Validate checks the settings every command relies on.
func Validate(cfg *Config) error {
	var errs ValidationErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	for field, dir := range map[string]string{KeyStoreDir: cfg.Store.Dir, KeyDataDir: cfg.Data.Dir} {
		if strings.TrimSpace(dir) == "" {
			add(field, "must not be empty")
		}
	}
	if cfg.Bundle.Initial != "" && strings.TrimSpace(cfg.Bundle.Initial) == "" {
		add(KeyBundleInitial, "must not be whitespace only")
	}

	if err := ValidateRootURL(cfg.Update.RootURL); err != nil {
		add(KeyUpdateRootURL, err.Error())
	}

	if cfg.Startup.Timeout <= 0 {
		add(KeyStartupTimeout, "must be a positive duration")
	}
	if cfg.Download.Timeout <= 0 {
		add(KeyDownloadTimeout, "must be a positive duration")
	}
	if cfg.Download.Concurrency < 1 || cfg.Download.Concurrency > maxDownloadConcurrency {
		add(KeyDownloadConcurrency, fmt.Sprintf("must be between 1 and %d", maxDownloadConcurrency))
	}

	if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		add(KeyServerAddr, "must be host:port")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateRootURL accepts "" or an absolute http(s) URL.
func ValidateRootURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("must include a host")
	}
	return nil
}

// ValidateFile validates a configuration file at the given path.
func ValidateFile(path string) error {
	loader := NewLoader()
	cfg, err := loader.Load(path)
	if err != nil {
		return fmt.Errorf("loading config file: %w", err)
	}

	return Validate(cfg)
}
