// Package version provides version information for the hcp CLI.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/opmodel/hcp/internal/manifest"
)

// Build-time variables set via ldflags.
var (
	// Version is the CLI version (set via ldflags).
	Version = "v0.0.0-dev"

	// GitCommit is the git commit hash.
	GitCommit = "unknown"

	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)

// Info contains version information.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	GitCommit string `json:"gitCommit" yaml:"gitCommit"`
	BuildDate string `json:"buildDate" yaml:"buildDate"`
	GoVersion string `json:"goVersion" yaml:"goVersion"`
	Platform  string `json:"platform" yaml:"platform"`

	// ManifestFormat is the asset manifest format this build understands.
	ManifestFormat string `json:"manifestFormat" yaml:"manifestFormat"`
}

// Get returns the current version information. When the binary was built
// without ldflags, the commit falls back to the VCS stamp in the build info.
func Get() Info {
	info := Info{
		Version:        Version,
		GitCommit:      GitCommit,
		BuildDate:      BuildDate,
		GoVersion:      runtime.Version(),
		Platform:       runtime.GOOS + "/" + runtime.GOARCH,
		ManifestFormat: manifest.FormatWebProgramPre1,
	}
	if info.GitCommit == "unknown" {
		if rev := vcsRevision(); rev != "" {
			info.GitCommit = rev
		}
	}
	return info
}

func vcsRevision() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}

// String returns a human-readable version string.
func (i Info) String() string {
	return fmt.Sprintf("hcp:\n  Version:  %s\n  Build ID: %s/%s\n  Go:       %s (%s)\n\nManifest:\n  Format:   %s",
		i.Version, i.BuildDate, i.GitCommit, i.GoVersion, i.Platform, i.ManifestFormat)
}
