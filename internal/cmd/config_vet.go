package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opmodel/hcp/internal/config"
	oerrors "github.com/opmodel/hcp/internal/errors"
	"github.com/opmodel/hcp/internal/output"
)

// NewConfigVetCmd creates the config vet command.
func NewConfigVetCmd() *cobra.Command {
	var showResolved bool

	cmd := &cobra.Command{
		Use:   "vet",
		Short: "Validate configuration",
		Long: `Validate the hcp configuration file.

Checks performed:
  1. Config file exists at resolved path
  2. Config file is valid YAML
  3. Settings pass validation after env overrides are applied

The config path is resolved using precedence:
  --config flag > HCP_CONFIG env > ~/.hcp/config.yaml

Examples:
  # Validate default configuration
  hcp config vet

  # Show every setting with the source it came from
  hcp config vet --resolved`,
		RunE: func(c *cobra.Command, args []string) error {
			return runConfigVet(c, showResolved)
		},
	}

	cmd.Flags().BoolVar(&showResolved, "resolved", false, "Print each setting and its source")

	return cmd
}

func runConfigVet(cmd *cobra.Command, showResolved bool) error {
	pathResult, err := config.ResolveConfigPath(config.ResolveConfigPathOptions{
		FlagValue: configFlag,
	})
	if err != nil {
		return oerrors.Wrap(oerrors.ErrNotFound, "could not resolve config path")
	}
	path := pathResult.ConfigPath

	output.Debug("validating config", "path", path, "source", pathResult.Source)

	exists, err := config.ConfigFileExists(path)
	if err != nil {
		return oerrors.NewFilesystemError("could not stat configuration file", path, err)
	}
	if !exists {
		return oerrors.NewNotFoundError(
			"configuration file not found",
			path,
			"Run 'hcp config init' to create default configuration",
		)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(path)
	if err != nil {
		return oerrors.NewValidationError(err.Error(), path, "Fix the YAML syntax.")
	}

	if err := config.Validate(cfg); err != nil {
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			detail := &oerrors.DetailError{
				Type:     "validation failed",
				Message:  fmt.Sprintf("%d invalid setting(s)", len(verrs)),
				Location: path,
				Context:  map[string]string{},
				Cause:    oerrors.ErrValidation,
			}
			for _, v := range verrs {
				detail.Context[v.Field] = v.Message
			}
			return detail
		}
		return fmt.Errorf("%w: %w", oerrors.ErrValidation, err)
	}

	if showResolved {
		t := output.NewTable("KEY", "VALUE", "SOURCE")
		for _, rv := range loader.Resolved() {
			t.Row(rv.Key, fmt.Sprint(rv.Value), string(rv.Source))
		}
		printf(cmd, "%s\n", t.String())
	}

	printf(cmd, "%s\n", output.FormatCheckmark("Configuration is valid: "+path))
	return nil
}
