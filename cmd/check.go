package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"prwatch/internal/app"
	"prwatch/internal/config"
	pkgstrings "prwatch/pkg/strings"
)

// checkConfigPath is the configuration file to validate.
var checkConfigPath string

// checkProbe additionally verifies that both providers are reachable with
// the configured credentials.
var checkProbe bool

// probeTimeout bounds the whole connectivity probe.
const probeTimeout = 30 * time.Second

// zeroCommit is a commit hash no build configuration will ever have built.
// Asking TeamCity for it exercises authentication and reachability without
// side effects.
const zeroCommit = "0000000000000000000000000000000000000000"

// checkCmd validates a configuration file and optionally probes the
// configured providers.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration file",
	Long: `Loads and validates the configuration file and prints the resulting
repository table. With --probe, additionally connects to Bitbucket and
TeamCity using the configured credentials and reports reachability per
repository.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

// runCheck is the main entry point for the check command.
func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(checkConfigPath)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	renderRepoTable(cmd, cfg)

	if !checkProbe {
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration OK")
		return nil
	}
	return probeProviders(cmd, cfg)
}

// renderRepoTable prints the validated repository set.
func renderRepoTable(cmd *cobra.Command, cfg config.Config) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Repository", "Build Config", "Poll", "Branches", "Rebuild", "Notify"})

	for _, repo := range cfg.Repos {
		branches := "*"
		if len(repo.Branches) > 0 {
			branches = strings.Join(repo.Branches, ", ")
		}
		t.AppendRow(table.Row{
			repo.Name(),
			repo.BuildConfigID,
			repo.PollInterval,
			branches,
			repo.RebuildOnFailure,
			repo.PostBuildStatus,
		})
	}
	t.Render()
}

// probeProviders pings Bitbucket and TeamCity for every configured
// repository and prints the outcome.
func probeProviders(cmd *cobra.Command, cfg config.Config) error {
	scmClient, ciClient, err := app.BuildProviders(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	spin.Writer = os.Stderr
	spin.Suffix = " probing providers..."
	spin.Start()

	type probeResult struct {
		target string
		err    error
	}
	var results []probeResult

	for _, repo := range cfg.Repos {
		_, err := scmClient.ListOpenPullRequests(ctx, repo.Project, repo.Repo)
		results = append(results, probeResult{target: "Bitbucket " + repo.Name(), err: err})

		_, err = ciClient.GetLatestBuildStatus(ctx, repo.BuildConfigID, zeroCommit)
		results = append(results, probeResult{target: "TeamCity " + repo.BuildConfigID, err: err})
	}
	spin.Stop()

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Target", "Status"})

	failed := 0
	for _, r := range results {
		status := "OK"
		if r.err != nil {
			status = pkgstrings.Truncate(r.err.Error(), 80)
			failed++
		}
		t.AppendRow(table.Row{r.target, status})
	}
	t.Render()

	if failed > 0 {
		return fmt.Errorf("%d of %d probes failed", failed, len(results))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVar(&checkConfigPath, "config", "", "Configuration file path")
	checkCmd.Flags().BoolVar(&checkProbe, "probe", false, "Probe provider connectivity")
	_ = checkCmd.MarkFlagRequired("config")
}
