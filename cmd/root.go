package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the prwatch application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "prwatch",
	Short: "Watch Bitbucket pull requests and trigger TeamCity builds",
	Long: `prwatch is a daemon that polls Bitbucket Server for open pull requests
and triggers the matching TeamCity build configuration whenever a pull
request's head commit changes. Build progress can be reported back to the
pull request as a comment and a commit build status.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. Called from the main
// package to inject the build version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application. It is called by
// main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "prwatch version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
