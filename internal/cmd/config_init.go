package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/opmodel/hcp/internal/config"
	oerrors "github.com/opmodel/hcp/internal/errors"
	"github.com/opmodel/hcp/internal/fsutil"
	"github.com/opmodel/hcp/internal/output"
)

// NewConfigInitCmd creates the config init command.
func NewConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize default configuration",
		Long: `Write a commented default configuration file.

The file is written to the resolved config path:
  --config flag > HCP_CONFIG env > ~/.hcp/config.yaml

Examples:
  # Initialize configuration
  hcp config init

  # Overwrite existing configuration
  hcp config init --force`,
		RunE: func(c *cobra.Command, args []string) error {
			return runConfigInit(c, force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")

	return cmd
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	pathResult, err := config.ResolveConfigPath(config.ResolveConfigPathOptions{
		FlagValue: configFlag,
	})
	if err != nil {
		return oerrors.Wrap(oerrors.ErrNotFound, "could not determine home directory")
	}
	path, err := config.ExpandPath(pathResult.ConfigPath)
	if err != nil {
		return oerrors.Wrap(oerrors.ErrNotFound, "could not determine home directory")
	}

	if _, err := os.Stat(path); err == nil && !force {
		return &oerrors.DetailError{
			Type:     "validation failed",
			Message:  "configuration already exists",
			Location: path,
			Hint:     "Use --force to overwrite existing configuration.",
			Cause:    oerrors.ErrValidation,
		}
	}

	data, err := config.DefaultConfigYAML()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return oerrors.Wrapf(oerrors.ErrPermission, "could not create %s", filepath.Dir(path))
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o600); err != nil {
		return oerrors.Wrapf(oerrors.ErrPermission, "could not write %s", path)
	}

	printf(cmd, "%s\n", output.FormatCheckmark("Configuration initialized at "+path))
	printf(cmd, "Set bundle.initial, then validate with: hcp config vet\n")
	return nil
}
