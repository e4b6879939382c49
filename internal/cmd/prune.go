package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opmodel/hcp/internal/output"
)

// NewPruneCmd creates the prune command.
func NewPruneCmd() *cobra.Command {
	var keep []string

	c := &cobra.Command{
		Use:   "prune",
		Short: "Delete downloaded versions",
		Long: `Delete downloaded versions from the store. The current and pending
versions are always kept.

Examples:
  # Delete everything except the served version
  hcp prune

  # Also keep version 42
  hcp prune --keep 42`,
		RunE: func(c *cobra.Command, args []string) error {
			return runPrune(c, keep)
		},
	}

	c.Flags().StringSliceVar(&keep, "keep", nil, "Version to keep (repeatable)")

	return c
}

func runPrune(cmd *cobra.Command, keep []string) error {
	c, err := openCoordinator(engineOptions{})
	if err != nil {
		return err
	}
	defer c.Close()

	keep = append(keep, c.Current().Version())
	if p := c.Pending(); p != nil {
		keep = append(keep, p.Version())
	}

	before := c.Manager().DownloadedVersions()
	pruneErr := c.Manager().PruneExcept(keep...)
	after := c.Manager().DownloadedVersions()

	remaining := make(map[string]bool, len(after))
	for _, v := range after {
		remaining[v] = true
	}
	removed := 0
	for _, v := range before {
		if !remaining[v] {
			removed++
			printf(cmd, "  - %s\n", output.StyleNoun.Render(v))
		}
	}

	if pruneErr != nil {
		return fmt.Errorf("pruning versions: %w", pruneErr)
	}
	if removed == 0 {
		printf(cmd, "Nothing to prune\n")
		return nil
	}
	printf(cmd, "%s\n", output.FormatCheckmark(fmt.Sprintf("Pruned %d version(s)", removed)))
	return nil
}
