package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/opmodel/hcp/internal/bundle"
	"github.com/opmodel/hcp/internal/cmdutil"
	oerrors "github.com/opmodel/hcp/internal/errors"
	"github.com/opmodel/hcp/internal/manifest"
	"github.com/opmodel/hcp/internal/output"
)

// NewDiffCmd creates the diff command.
func NewDiffCmd() *cobra.Command {
	var summaryOnly bool

	c := &cobra.Command{
		Use:   "diff <from> <to>",
		Short: "Compare the manifests of two local versions",
		Long: `Compare two versions available locally (the initial version or a
downloaded one). Prints the added, modified and removed assets followed by a
structural diff of the two manifests.

Examples:
  hcp diff 41 42
  hcp diff 41 42 --summary`,
		Args: cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			from, to := cmdutil.ResolveVersionArgs(args)
			return runDiff(c, from, to, summaryOnly)
		},
	}

	c.Flags().BoolVar(&summaryOnly, "summary", false, "Only print the asset summary")

	return c
}

func runDiff(cmd *cobra.Command, from, to string, summaryOnly bool) error {
	c, err := openCoordinator(engineOptions{})
	if err != nil {
		return err
	}
	defer c.Close()

	older, err := findBundle(c, from)
	if err != nil {
		return err
	}
	newer, err := findBundle(c, to)
	if err != nil {
		return err
	}

	printf(cmd, "%s", output.RenderDelta(from, to, manifest.Diff(older.Manifest(), newer.Manifest())))
	if summaryOnly {
		return nil
	}

	olderRaw, err := readManifest(older)
	if err != nil {
		return err
	}
	newerRaw, err := readManifest(newer)
	if err != nil {
		return err
	}

	report, err := output.ManifestDiff(olderRaw, newerRaw, output.IsTTY())
	if err != nil {
		return fmt.Errorf("%w: %w", oerrors.ErrManifest, err)
	}
	if report != "" {
		printf(cmd, "\n%s\n", report)
	}
	return nil
}

func readManifest(b *bundle.Bundle) ([]byte, error) {
	path := filepath.Join(b.Dir(), bundle.ManifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oerrors.NewFilesystemError("could not read manifest", path, err)
	}
	return data, nil
}
