// Package cmdutil provides shared command utilities: flag groups used by
// several commands and the table-or-structured output switch.
package cmdutil

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/opmodel/hcp/internal/output"
)

// OutputFlags holds the --output flag of commands that print a result
// (check, status, versions, version).
type OutputFlags struct {
	Output string
}

// AddTo registers the output flag on the given cobra command.
func (f *OutputFlags) AddTo(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.Output, "output", "o", "table",
		"Output format (table, yaml, json)")
}

// Format parses the flag value.
func (f *OutputFlags) Format() (output.Format, error) {
	return output.ParseFormat(f.Output)
}

// WaitFlags holds flags for commands that block on a background download.
type WaitFlags struct {
	Wait    bool
	Timeout time.Duration
}

// AddTo registers the wait flags on the given cobra command.
func (f *WaitFlags) AddTo(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.Wait, "wait", true,
		"Wait for a started download to finish")
	cmd.Flags().DurationVar(&f.Timeout, "timeout", 0,
		"Give up waiting after this long (0 waits forever)")
}

// ResolveVersionArgs returns the two versions of a comparison.
func ResolveVersionArgs(args []string) (from, to string) {
	return args[0], args[1]
}
