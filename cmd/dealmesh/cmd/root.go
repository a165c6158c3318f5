// Package cmd holds the dealmesh command tree.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/dealmesh"
	"github.com/hupe1980/dealmesh/config"
)

var (
	cfgFile  string
	logLevel string

	// prefixOverride replaces artifact.prefix when set by a subcommand.
	prefixOverride string

	appVersion string
	appCommit  string
)

var rootCmd = &cobra.Command{
	Use:   "dealmesh",
	Short: "Multi-agent valuation of used car purchases",
	Long: `dealmesh researches market prices for used cars, compares them against
the price paid and scores each purchase with rule based and LLM verdicts.

Configuration is read from --config and DEALMESH_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// SetVersion injects build information.
func SetVersion(version, commit string) {
	appVersion = version
	appCommit = commit
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level override (debug, info, warn, error)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if prefixOverride != "" {
		cfg.Artifact.Prefix = prefixOverride
	}
	return cfg, nil
}

// withMesh builds a DealMesh for the lifetime of fn. The context is
// cancelled on SIGINT and SIGTERM.
func withMesh(cmd *cobra.Command, fn func(ctx context.Context, d *dealmesh.DealMesh, cfg *config.Config) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := dealmesh.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	return fn(ctx, d, cfg)
}
