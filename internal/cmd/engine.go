package cmd

import (
	"fmt"

	"github.com/opmodel/hcp/internal/bundle"
	"github.com/opmodel/hcp/internal/config"
	oerrors "github.com/opmodel/hcp/internal/errors"
	"github.com/opmodel/hcp/internal/hcp"
	"github.com/opmodel/hcp/internal/transport"
)

// engineOptions carries the collaborators a command plugs into the
// coordinator.
type engineOptions struct {
	notifier hcp.Notifier
	reloader hcp.Reloader
}

// openCoordinator builds the coordinator from the loaded settings.
func openCoordinator(opts engineOptions) (*hcp.Coordinator, error) {
	cfg, err := GetConfig().ExpandPaths()
	if err != nil {
		return nil, oerrors.Wrap(oerrors.ErrNotFound, "could not determine home directory")
	}

	if cfg.Bundle.Initial == "" {
		return nil, oerrors.NewValidationError(
			"no initial bundle configured",
			GetConfigPath(),
			"Set bundle.initial in the config file or HCP_BUNDLE_INITIAL.",
		)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", oerrors.ErrValidation, err)
	}

	return hcp.New(hcp.Options{
		InitialDir:          cfg.Bundle.Initial,
		StoreDir:            cfg.Store.Dir,
		DataDir:             cfg.Data.Dir,
		RootURL:             cfg.Update.RootURL,
		IgnoreCompatibility: cfg.Update.IgnoreCompatibility,
		StartupTimeout:      cfg.Startup.Timeout,
		Client:              transport.NewClient(cfg.Download.Timeout, cfg.Download.Concurrency),
		Concurrency:         cfg.Download.Concurrency,
		Notifier:            opts.notifier,
		Reloader:            opts.reloader,
	})
}

// findBundle returns the initial or a downloaded bundle by version.
func findBundle(c *hcp.Coordinator, version string) (*bundle.Bundle, error) {
	if c.Initial().Version() == version {
		return c.Initial(), nil
	}
	if b := c.Manager().DownloadedBundle(version); b != nil {
		return b, nil
	}
	return nil, oerrors.NewNotFoundError(
		fmt.Sprintf("version %s is not available locally", version),
		c.Manager().VersionsDir(),
		"Run 'hcp versions' to list known versions.",
	)
}
