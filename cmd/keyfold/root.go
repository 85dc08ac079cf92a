// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/keyfold/keyfold/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Keyfold CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyfold",
		Short: "Keyfold - credential and session lifecycle engine",
		Long: `Keyfold manages account credentials and session lifecycles:
argon2id password hashing, signed access tokens, opaque refresh tokens,
and retention sweeps over expired token records.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSweepCmd())

	return cmd
}

// registerConfigFlags adds flags that override config file settings.
// Flag names use the dotted key form so they overlay the config tree directly.
func registerConfigFlags(fs *pflag.FlagSet) {
	fs.String("database.url", "", "PostgreSQL connection URL")
	fs.String("auth.signing_secret", "", "HMAC secret for access token signing")
	fs.String("log.level", "", "log level (debug, info, warn, error)")
	fs.String("log.format", "", "log format (text or json)")
	fs.String("observability.listen", "", "metrics/health HTTP listen address")
	fs.String("sweep.interval", "", "interval between retention sweeps")
}

// loadConfig loads configuration from the --config file overlaid with any
// config-override flags set on the command.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	//nolint:wrapcheck // config.Load returns fully annotated errors
	return config.Load(configFile, cmd.Flags())
}
