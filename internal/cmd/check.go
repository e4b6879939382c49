package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opmodel/hcp/internal/cmdutil"
	"github.com/opmodel/hcp/internal/manager"
	"github.com/opmodel/hcp/internal/output"
)

type checkOptions struct {
	out  cmdutil.OutputFlags
	wait cmdutil.WaitFlags
}

// checkReport is the outcome of `hcp check`.
type checkReport struct {
	Status         string `json:"status" yaml:"status"`
	Version        string `json:"version,omitempty" yaml:"version,omitempty"`
	Reason         string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Missing        int    `json:"missing" yaml:"missing"`
	PendingVersion string `json:"pendingVersion,omitempty" yaml:"pendingVersion,omitempty"`
}

// NewCheckCmd creates the check command.
func NewCheckCmd() *cobra.Command {
	opts := &checkOptions{}

	c := &cobra.Command{
		Use:   "check",
		Short: "Check for a new version once",
		Long: `Fetch the remote manifest once and download the new version if there
is one. Only assets that changed since the versions already on disk are
transferred.

Examples:
  # Check and wait for the download to finish
  hcp check

  # Start the check and return without waiting
  hcp check --wait=false

  # Machine-readable outcome
  hcp check -o json`,
		RunE: func(c *cobra.Command, args []string) error {
			return runCheck(c, opts)
		},
	}

	opts.wait.AddTo(c)
	opts.out.AddTo(c)

	return c
}

func runCheck(cmd *cobra.Command, opts *checkOptions) error {
	format, err := opts.out.Format()
	if err != nil {
		return err
	}

	c, err := openCoordinator(engineOptions{})
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result := c.CheckForUpdates(ctx)
	if result.Status == manager.StatusDownloadStarted && opts.wait.Wait {
		title := fmt.Sprintf("Downloading version %s (%d assets)...", result.Version, result.Missing)
		err := output.RunWithSpinner(ctx, func(ctx context.Context) error {
			done := make(chan struct{})
			go func() {
				c.Manager().Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}, output.WithTitle(title), output.WithTimeout(opts.wait.Timeout))
		if err != nil {
			return fmt.Errorf("waiting for download: %w", err)
		}
	}

	report := checkReport{
		Status:  result.Status.String(),
		Version: result.Version,
		Reason:  result.Decision.Reason,
		Missing: result.Missing,
	}
	if p := c.Pending(); p != nil {
		report.PendingVersion = p.Version()
	}

	if err := c.LastError(); err != nil {
		return fmt.Errorf("checking for updates: %w", err)
	}

	return cmdutil.WriteResult(cmd.OutOrStdout(), format, report, func() string {
		return describeCheck(report, opts.wait.Wait)
	})
}

func describeCheck(r checkReport, waited bool) string {
	switch r.Status {
	case manager.StatusDownloadStarted.String():
		if waited && r.PendingVersion == r.Version {
			return output.FormatCheckmark(fmt.Sprintf("Version %s downloaded (%d assets), ready on next reload",
				output.StyleNoun.Render(r.Version), r.Missing))
		}
		return fmt.Sprintf("Downloading version %s (%d assets)", output.StyleNoun.Render(r.Version), r.Missing)
	case manager.StatusFinished.String():
		return output.FormatCheckmark(fmt.Sprintf("Version %s assembled from local assets, ready on next reload",
			output.StyleNoun.Render(r.Version)))
	case manager.StatusAlreadyAvailable.String():
		return fmt.Sprintf("Version %s is already available", output.StyleNoun.Render(r.Version))
	case manager.StatusAlreadyDownloading.String():
		return fmt.Sprintf("Version %s is already being downloaded", output.StyleNoun.Render(r.Version))
	case manager.StatusRejected.String():
		return fmt.Sprintf("Not downloading version %s: %s", output.StyleNoun.Render(r.Version), r.Reason)
	default:
		return "Check " + r.Status
	}
}
