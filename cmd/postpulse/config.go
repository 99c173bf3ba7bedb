package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"postpulse/pkg/auth"
	"postpulse/pkg/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage postpulse configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (POSTPULSE_*)
  - .env files
  - Configuration file
  - Default values (lowest priority)`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default values",
	Long: `Write a configuration file holding every option at its default value.

The file is created as '.postpulse.yaml' in the current directory unless a
different path is given with --config.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  `Show the configuration after all sources are merged. Secrets are masked.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = ".postpulse.yaml"
	}
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("configuration file %s already exists (use --force to overwrite)", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}
	printer.Success("Configuration file created: " + path)
	printer.Line("\nNext steps:")
	printer.Line("1. Store your API token with 'postpulse auth login'")
	printer.Line("2. Run 'postpulse config validate' after editing the file")
	printer.Line("3. Start a crawl with 'postpulse crawl <seed>'")
	return nil
}

// masked returns a copy of cfg safe to print.
func masked(cfg *config.Config) config.Config {
	out := *cfg
	out.Source.BearerToken = maskSecret(out.Source.BearerToken)
	out.Storage.PostgresURL = maskSecret(out.Storage.PostgresURL)
	out.Redis.Password = maskSecret(out.Redis.Password)
	out.Graph.Password = maskSecret(out.Graph.Password)
	return out
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return auth.MaskString(s)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	display := masked(cfg)
	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	printer.Highlight("Current Configuration")
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	if err := resolveToken(cfg); err != nil {
		printer.Warning("API token not configured", err)
	}

	printer.Success("Configuration is valid")
	printer.Info("Storage", fmt.Sprintf("%s (%s)", cfg.Storage.Backend, cfg.Storage.Directory))
	printer.Info("Checkpoint", fmt.Sprintf("%s/%s", cfg.Crawl.CheckpointBackend, cfg.Crawl.CheckpointName))
	printer.Info("Connections per minute", fmt.Sprintf("%g", cfg.RateLimit.ConnectionsPerMinute))
	printer.Info("Posts per minute", fmt.Sprintf("%g", cfg.RateLimit.PostsPerMinute))
	printer.Info("Posts limiter", cfg.RateLimit.PostsStrategy)
	printer.Info("Fetch workers", fmt.Sprintf("%d", cfg.Fetch.Workers))
	printer.Info("Log level", cfg.Logging.Level)
	return nil
}
