// Package main is the entry point for scimctl, the SCIM engine operator CLI
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openidx/scim-engine/internal/common/config"
	"github.com/openidx/scim-engine/internal/common/logger"
)

var (
	Version    = "dev"
	CommitHash = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs once the config is loaded
type app struct {
	cfg *config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "scimctl",
		Short:         "Operate a SCIM provisioning engine",
		Version:       fmt.Sprintf("%s (commit: %s)", Version, CommitHash),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// load reads the same configuration as the service
	load := func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load("scimctl")
		if err != nil {
			return err
		}
		a.cfg = cfg
		a.log = logger.New(cfg.Environment, cfg.LogLevel)
		return nil
	}

	rootCmd.AddCommand(
		newMigrateCmd(a, load),
		newFilterCmd(),
		newTokenCmd(a, load),
	)
	return rootCmd
}
