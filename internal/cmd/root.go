// Package cmd provides CLI command implementations.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opmodel/hcp/internal/config"
	oerrors "github.com/opmodel/hcp/internal/errors"
	"github.com/opmodel/hcp/internal/output"
	"github.com/opmodel/hcp/internal/version"
)

var (
	// Global flags
	configFlag     string
	verboseFlag    bool
	timestampsFlag bool

	// Resolved configuration (loaded during PersistentPreRunE)
	loadedConfig *config.Config
	configPath   string
)

// NewRootCmd creates the root command for the hcp CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hcp",
		Short: "Hot code push for locally served web bundles",
		Long: `hcp keeps a locally served web bundle up to date.

It checks a remote server for new versions, downloads only the assets that
changed, and switches to a new version on the next reload. A version that
fails to report a successful startup in time is blacklisted and the last
known good version is restored.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initializeGlobals(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to config file (env: HCP_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&timestampsFlag, "timestamps", true, "Show timestamps in log output")

	rootCmd.AddCommand(NewCheckCmd())
	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewStatusCmd())
	rootCmd.AddCommand(NewVersionsCmd())
	rootCmd.AddCommand(NewPruneCmd())
	rootCmd.AddCommand(NewDiffCmd())
	rootCmd.AddCommand(NewConfigCmd())
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// initializeGlobals sets up logging and loads configuration.
func initializeGlobals(cmd *cobra.Command) error {
	pathResult, err := config.ResolveConfigPath(config.ResolveConfigPathOptions{
		FlagValue: configFlag,
	})
	if err != nil {
		return oerrors.Wrap(oerrors.ErrNotFound, "could not resolve config path")
	}
	configPath = pathResult.ConfigPath

	loader := config.NewLoader()
	if cmd.Flags().Changed("timestamps") {
		loader.SetFlag(config.KeyLogTimestamps, timestampsFlag)
	}

	cfg, err := loader.Load(configPath)
	if err != nil {
		return &oerrors.DetailError{
			Type:     "validation failed",
			Message:  err.Error(),
			Location: configPath,
			Hint:     "Run 'hcp config vet' to check the file.",
			Cause:    oerrors.ErrValidation,
		}
	}
	loadedConfig = cfg

	output.SetupLogging(output.LogConfig{
		Verbose:    verboseFlag,
		Timestamps: output.BoolPtr(cfg.Timestamps()),
	})

	if verboseFlag {
		info := version.Get()
		output.Debug("hcp started", "version", info.Version, "commit", info.GitCommit)
		output.Debug("config path resolved", "path", configPath, "source", pathResult.Source)
		config.LogResolvedValues(loader.Resolved())
	}

	return nil
}

// GetConfig returns the loaded configuration, or the defaults when the root
// command has not run.
func GetConfig() *config.Config {
	if loadedConfig != nil {
		return loadedConfig
	}
	return config.DefaultConfig()
}

// GetConfigPath returns the resolved config path value.
func GetConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return configFlag
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
