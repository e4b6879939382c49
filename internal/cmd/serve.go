package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	oerrors "github.com/opmodel/hcp/internal/errors"
	"github.com/opmodel/hcp/internal/hcp"
	"github.com/opmodel/hcp/internal/output"
	"github.com/opmodel/hcp/internal/server"
)

type serveOptions struct {
	addr          string
	checkInterval time.Duration
	checkOnStart  bool
}

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	opts := &serveOptions{}

	c := &cobra.Command{
		Use:   "serve",
		Short: "Serve the current version and apply updates",
		Long: `Serve the current bundle over HTTP and run the update loop.

The served content reports a successful start with
POST /__hcp/startup-complete. Until it does, the startup watchdog is armed;
when it fires the version is blacklisted and the last known good version is
served instead.

Endpoints:
  POST /__hcp/check             check for a new version
  POST /__hcp/startup-complete  report a successful start
  POST /__hcp/reload            switch to the pending version
  GET  /__hcp/status            coordinator state

Examples:
  # Serve with the configured address
  hcp serve

  # Check every ten minutes
  hcp serve --check-interval 10m`,
		RunE: func(c *cobra.Command, args []string) error {
			return runServe(c, opts)
		},
	}

	c.Flags().StringVar(&opts.addr, "addr", "", "Listen address (default from server.addr)")
	c.Flags().DurationVar(&opts.checkInterval, "check-interval", 0, "Check for updates periodically (0 disables)")
	c.Flags().BoolVar(&opts.checkOnStart, "check-on-start", true, "Check for updates once at startup")

	return c
}

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	addr := opts.addr
	if addr == "" {
		addr = GetConfig().Server.Addr
	}

	srv := server.New(addr, output.ComponentLogger("server"))
	c, err := openCoordinator(engineOptions{reloader: srv})
	if err != nil {
		return err
	}
	defer c.Close()

	srv.Attach(c, c.Current())
	c.Start()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go checkLoop(ctx, c, opts)

	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("%w: serving on %s: %w", oerrors.ErrConnectivity, addr, err)
	}
	output.Info("server stopped")
	return nil
}

// checkLoop runs the startup and periodic update checks until ctx ends.
func checkLoop(ctx context.Context, c *hcp.Coordinator, opts *serveOptions) {
	if opts.checkOnStart {
		c.CheckForUpdates(ctx)
	}
	if opts.checkInterval <= 0 {
		return
	}

	ticker := time.NewTicker(opts.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckForUpdates(ctx)
		}
	}
}
