// Package main is the entry point for the hcp CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/opmodel/hcp/internal/cmd"
)

func main() {
	rootCmd := cmd.NewRootCmd()

	if err := rootCmd.Execute(); err != nil {
		var exitErr *cmd.ExitError
		if !errors.As(err, &exitErr) || !exitErr.Printed {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(cmd.ExitCodeFromError(err))
	}
}
