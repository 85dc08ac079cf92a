// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/keyfold/keyfold/internal/store"
)

// Migrator wraps the store.Migrator methods used by the migrate subcommands.
type Migrator interface {
	Up() error
	Down() error
	Force(version int) error
	Version() (uint, bool, error)
	PendingMigrations() ([]uint, error)
	AppliedMigrations() ([]uint, error)
	Close() error
}

// MigrateDeps contains injectable dependencies for the migrate subcommands.
// All fields with nil values will use their default implementations.
type MigrateDeps struct {
	// MigratorFactory creates a migrator from a database URL.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)
}

func withMigrateDefaults(deps *MigrateDeps) *MigrateDeps {
	if deps == nil {
		deps = &MigrateDeps{}
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = func(databaseURL string) (Migrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}
	return deps
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  `Apply, roll back, and inspect schema migrations against the PostgreSQL database.`,
	}

	cmd.PersistentFlags().String("database.url", "", "PostgreSQL connection URL (overrides DATABASE_URL)")

	cmd.AddCommand(newMigrateUpCmd(nil))
	cmd.AddCommand(newMigrateDownCmd(nil))
	cmd.AddCommand(newMigrateStatusCmd(nil))
	cmd.AddCommand(newMigrateForceCmd(nil))

	return cmd
}

// resolveDatabaseURL returns the database URL from the --database.url flag or
// the DATABASE_URL environment variable, in that order.
func resolveDatabaseURL(cmd *cobra.Command) (string, error) {
	if url, err := cmd.Flags().GetString("database.url"); err == nil && url != "" {
		return url, nil
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url, nil
	}
	return "", oops.Code("CONFIG_DATABASE_URL_REQUIRED").
		Errorf("database URL is required (set --database.url or DATABASE_URL)")
}

func openMigrator(cmd *cobra.Command, deps *MigrateDeps) (Migrator, error) {
	databaseURL, err := resolveDatabaseURL(cmd)
	if err != nil {
		return nil, err
	}

	m, err := deps.MigratorFactory(databaseURL)
	if err != nil {
		return nil, oops.Code("MIGRATOR_INIT_FAILED").With("operation", "create migrator").Wrap(err)
	}
	return m, nil
}

func closeMigrator(m Migrator) {
	if err := m.Close(); err != nil {
		slog.Warn("error closing migrator", "error", err)
	}
}

func newMigrateUpCmd(deps *MigrateDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateUp(cmd, withMigrateDefaults(deps))
		},
	}
}

func runMigrateUp(cmd *cobra.Command, deps *MigrateDeps) error {
	m, err := openMigrator(cmd, deps)
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	cmd.Println("Running migrations...")
	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "migrate up").Wrap(err)
	}

	cmd.Println("Migrations completed successfully")
	return nil
}

func newMigrateDownCmd(deps *MigrateDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		Long:  `Roll back all applied migrations. This drops the Keyfold tables and their data.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateDown(cmd, withMigrateDefaults(deps))
		},
	}
}

func runMigrateDown(cmd *cobra.Command, deps *MigrateDeps) error {
	m, err := openMigrator(cmd, deps)
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	cmd.Println("Rolling back migrations...")
	if err := m.Down(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "migrate down").Wrap(err)
	}

	cmd.Println("Rollback completed successfully")
	return nil
}

func newMigrateForceCmd(deps *MigrateDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Force the migration version without running migrations",
		Long: `Set the recorded migration version without running any migrations.
Use only to recover from a dirty state after manually fixing the database.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateForce(cmd, args, withMigrateDefaults(deps))
		},
	}
}

func runMigrateForce(cmd *cobra.Command, args []string, deps *MigrateDeps) error {
	targetVersion, err := strconv.Atoi(args[0])
	if err != nil {
		return oops.Code("INVALID_VERSION").Errorf("version must be an integer, got %q", args[0])
	}

	m, err := openMigrator(cmd, deps)
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	if err := m.Force(targetVersion); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "migrate force").Wrap(err)
	}

	cmd.Printf("Forced migration version to %d\n", targetVersion)
	return nil
}

// MigrationStatus holds the status of a single migration for display.
type MigrationStatus struct {
	Version uint   `json:"version"`
	Name    string `json:"name"`
	State   string `json:"state"`
}

type migrateStatusConfig struct {
	jsonOutput bool
}

func newMigrateStatusCmd(deps *MigrateDeps) *cobra.Command {
	cfg := &migrateStatusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateStatus(cmd, cfg, withMigrateDefaults(deps))
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

func runMigrateStatus(cmd *cobra.Command, cfg *migrateStatusConfig, deps *MigrateDeps) error {
	m, err := openMigrator(cmd, deps)
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	_, dirty, err := m.Version()
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "migrate status").Wrap(err)
	}

	applied, err := m.AppliedMigrations()
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "migrate status").Wrap(err)
	}
	pending, err := m.PendingMigrations()
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "migrate status").Wrap(err)
	}

	statuses := collectMigrationStatuses(applied, pending)

	var output string
	if cfg.jsonOutput {
		data, jsonErr := json.MarshalIndent(statuses, "", "  ")
		if jsonErr != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "format status").Wrap(jsonErr)
		}
		output = string(data)
	} else {
		output = formatMigrationTable(statuses)
	}

	cmd.Println(output)
	if dirty {
		cmd.Println("WARNING: migration state is dirty; fix the database and run 'migrate force'")
	}
	return nil
}

func collectMigrationStatuses(applied, pending []uint) []MigrationStatus {
	statuses := make([]MigrationStatus, 0, len(applied)+len(pending))
	for _, v := range applied {
		statuses = append(statuses, MigrationStatus{Version: v, Name: lookupMigrationName(v), State: "applied"})
	}
	for _, v := range pending {
		statuses = append(statuses, MigrationStatus{Version: v, Name: lookupMigrationName(v), State: "pending"})
	}
	return statuses
}

func lookupMigrationName(version uint) string {
	name, err := store.MigrationName(version)
	if err != nil || name == "" {
		return "unknown"
	}
	return name
}

func formatMigrationTable(statuses []MigrationStatus) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "VERSION\tNAME\tSTATE")
	for _, s := range statuses {
		fmt.Fprintf(w, "%d\t%s\t%s\n", s.Version, s.Name, s.State)
	}

	_ = w.Flush()
	return strings.TrimRight(sb.String(), "\n")
}
