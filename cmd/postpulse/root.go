package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"postpulse/pkg/logger"
	"postpulse/pkg/ui"
)

var (
	// Version information, set with -ldflags at build time
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	profile    string
	noColor    bool
	quiet      bool

	printer = ui.NewPrinter(os.Stdout, false, false)
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "postpulse",
	Short: "Collect an account sample and measure how much it posts about a topic",
	Long: `postpulse walks the follow graph of a social network outward from a seed account,
collects the timelines of selected cohorts of accounts and measures how often, and
with how much response, those accounts posted about a topic over time.

Typical workflow:
  1. postpulse crawl <seed>          discover accounts by following follow chains
  2. postpulse sample select         pick the popular and random cohorts
  3. postpulse fetch popular         collect and classify the cohort's timelines
  4. postpulse analyze popular       compute the per-account and per-date series

Long runs can be stopped with Ctrl+C and resumed: crawl state is checkpointed after
every step and collected timelines are never fetched twice.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		printer = ui.NewPrinter(cmd.OutOrStdout(), noColor, quiet)
		logger.Version = version
	},
}

// Execute runs the root command. Ctrl+C and SIGTERM cancel the command's context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		printer.Error("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.postpulse.yaml or ~/.config/postpulse/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "stored API token profile to use")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors and tables")

	rootCmd.SetVersionTemplate(`postpulse {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
