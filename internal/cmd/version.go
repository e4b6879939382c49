package cmd

import (
	"github.com/spf13/cobra"

	"github.com/opmodel/hcp/internal/cmdutil"
	"github.com/opmodel/hcp/internal/version"
)

// NewVersionCmd creates the version command.
func NewVersionCmd() *cobra.Command {
	var out cmdutil.OutputFlags

	c := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Show hcp version information.

Displays:
  - hcp version, commit, and build date
  - the asset manifest format this build understands`,
		RunE: func(c *cobra.Command, args []string) error {
			format, err := out.Format()
			if err != nil {
				return err
			}
			info := version.Get()
			return cmdutil.WriteResult(c.OutOrStdout(), format, info, info.String)
		},
	}

	out.AddTo(c)

	return c
}
