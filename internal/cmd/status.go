package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/opmodel/hcp/internal/cmdutil"
	"github.com/opmodel/hcp/internal/hcp"
	"github.com/opmodel/hcp/internal/output"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var out cmdutil.OutputFlags

	c := &cobra.Command{
		Use:   "status",
		Short: "Show the update state",
		Long: `Show which version is served, which one is pending, the last known
good version, the blacklist, and the versions on disk.`,
		RunE: func(c *cobra.Command, args []string) error {
			return runStatus(c, &out)
		},
	}

	out.AddTo(c)

	return c
}

func runStatus(cmd *cobra.Command, out *cmdutil.OutputFlags) error {
	format, err := out.Format()
	if err != nil {
		return err
	}

	c, err := openCoordinator(engineOptions{})
	if err != nil {
		return err
	}
	defer c.Close()

	st := c.Status()
	return cmdutil.WriteResult(cmd.OutOrStdout(), format, st, func() string {
		return output.RenderKeyValues(statusPairs(st))
	})
}

func statusPairs(st hcp.Status) []output.KeyValue {
	orNone := func(s string) string {
		if s == "" {
			return "-"
		}
		return s
	}
	join := func(vs []string) string {
		if len(vs) == 0 {
			return "-"
		}
		return strings.Join(vs, ", ")
	}

	return []output.KeyValue{
		{Key: "current", Value: st.CurrentVersion},
		{Key: "pending", Value: orNone(st.PendingVersion)},
		{Key: "initial", Value: st.InitialVersion},
		{Key: "last downloaded", Value: orNone(st.LastDownloadedVersion)},
		{Key: "last known good", Value: orNone(st.LastKnownGoodVersion)},
		{Key: "blacklisted", Value: join(st.BlacklistedVersions)},
		{Key: "downloaded", Value: join(st.DownloadedVersions)},
		{Key: "downloading", Value: orNone(st.DownloadingVersion)},
		{Key: "state", Value: st.ManagerState},
		{Key: "app id", Value: orNone(st.AppID)},
		{Key: "root url", Value: orNone(st.RootURL)},
		{Key: "compatibility", Value: orNone(st.CompatibilityVersion)},
	}
}
