package cmd

import (
	"slices"

	"github.com/spf13/cobra"

	"github.com/opmodel/hcp/internal/cmdutil"
	"github.com/opmodel/hcp/internal/hcp"
	"github.com/opmodel/hcp/internal/output"
)

// versionEntry is one version known to the store.
type versionEntry struct {
	Version string   `json:"version" yaml:"version"`
	Roles   []string `json:"roles" yaml:"roles"`
	Dir     string   `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// NewVersionsCmd creates the versions command.
func NewVersionsCmd() *cobra.Command {
	var out cmdutil.OutputFlags

	c := &cobra.Command{
		Use:   "versions",
		Short: "List known versions",
		Long: `List the initial version, every downloaded version, and blacklisted
versions, with their roles (current, pending, last-known-good, blacklisted).`,
		RunE: func(c *cobra.Command, args []string) error {
			return runVersions(c, &out)
		},
	}

	out.AddTo(c)

	return c
}

func runVersions(cmd *cobra.Command, out *cmdutil.OutputFlags) error {
	format, err := out.Format()
	if err != nil {
		return err
	}

	c, err := openCoordinator(engineOptions{})
	if err != nil {
		return err
	}
	defer c.Close()

	entries := listVersions(c)
	return cmdutil.WriteResult(cmd.OutOrStdout(), format, entries, func() string {
		rows := make([]output.VersionRow, 0, len(entries))
		for _, e := range entries {
			dir := e.Dir
			if dir == "" {
				dir = "-"
			}
			rows = append(rows, output.VersionRow{Version: e.Version, Roles: e.Roles, Dir: dir})
		}
		return output.RenderVersionTable(rows)
	})
}

// listVersions returns the initial version first, then downloaded versions
// in name order, then blacklisted versions no longer on disk.
func listVersions(c *hcp.Coordinator) []versionEntry {
	st := c.Status()

	roles := func(v string, base string) []string {
		r := []string{base}
		if v == st.CurrentVersion {
			r = append(r, output.RoleCurrent)
		}
		if v == st.PendingVersion {
			r = append(r, output.RolePending)
		}
		if v == st.LastKnownGoodVersion {
			r = append(r, output.RoleKnownGood)
		}
		if slices.Contains(st.BlacklistedVersions, v) {
			r = append(r, output.RoleBlacklisted)
		}
		return r
	}

	entries := []versionEntry{{
		Version: st.InitialVersion,
		Roles:   roles(st.InitialVersion, output.RoleInitial),
		Dir:     c.Initial().Dir(),
	}}
	seen := map[string]bool{st.InitialVersion: true}

	for _, v := range st.DownloadedVersions {
		if seen[v] {
			continue
		}
		seen[v] = true
		e := versionEntry{Version: v, Roles: roles(v, output.RoleDownloaded)}
		if b := c.Manager().DownloadedBundle(v); b != nil {
			e.Dir = b.Dir()
		}
		entries = append(entries, e)
	}

	for _, v := range st.BlacklistedVersions {
		if seen[v] {
			continue
		}
		seen[v] = true
		entries = append(entries, versionEntry{Version: v, Roles: []string{output.RoleBlacklisted}})
	}
	return entries
}
