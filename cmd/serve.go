package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"prwatch/internal/app"
)

// serveConfigPath is the configuration file to load and watch for changes.
var serveConfigPath string

// serveDebug enables verbose logging across the application.
var serveDebug bool

// serveCmd defines the serve command, the main command of prwatch. It runs
// the watcher daemon until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pull request watcher daemon",
	Long: `Starts one watcher per configured repository. Each watcher polls
Bitbucket for open pull requests, triggers TeamCity builds for new head
commits and optionally reports build progress back to the pull request.

The configuration file is watched for changes: repositories can be added,
removed or reconfigured without restarting the daemon. An invalid edit is
logged and ignored; the last good configuration stays active.

Credentials are read from the environment variables named in the
configuration file, never from the file itself.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// runServe is the main entry point for the serve command.
func runServe(cmd *cobra.Command, args []string) error {
	application, err := app.NewApplication(app.NewConfig(serveConfigPath, serveDebug))
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	baseCtx := cmd.Context()
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Both calls are no-ops outside a systemd unit.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	defer daemon.SdNotify(false, daemon.SdNotifyStopping)

	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Configuration file path")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	_ = serveCmd.MarkFlagRequired("config")
}
