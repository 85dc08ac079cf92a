// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/keyfold/keyfold/internal/auth/postgres"
	"github.com/keyfold/keyfold/internal/logging"
	"github.com/keyfold/keyfold/internal/observability"
	"github.com/keyfold/keyfold/internal/store"
)

// RefreshSweepStore wraps the refresh token store methods used by the sweeper.
type RefreshSweepStore interface {
	DeleteExpired(ctx context.Context) (int64, error)
	DeleteRevoked(ctx context.Context) (int64, error)
}

// VerificationSweepStore wraps the verification token store methods used by
// the sweeper.
type VerificationSweepStore interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// SweepDeps contains injectable dependencies for the sweep command.
// All fields with nil values will use their default implementations.
type SweepDeps struct {
	// StoresFactory opens the token stores for a database URL. The returned
	// cleanup function releases the underlying connection pool.
	// Default: store.Connect plus the postgres repositories
	StoresFactory func(ctx context.Context, databaseURL string) (RefreshSweepStore, VerificationSweepStore, func(), error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer
}

func withSweepDefaults(deps *SweepDeps) *SweepDeps {
	if deps == nil {
		deps = &SweepDeps{}
	}
	if deps.StoresFactory == nil {
		deps.StoresFactory = func(ctx context.Context, databaseURL string) (RefreshSweepStore, VerificationSweepStore, func(), error) {
			pool, err := store.Connect(ctx, databaseURL)
			if err != nil {
				return nil, nil, nil, err
			}
			return postgres.NewRefreshTokenRepository(pool),
				postgres.NewVerificationTokenRepository(pool),
				pool.Close,
				nil
		}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
	return deps
}

// sweepConfig holds configuration for the sweep command.
type sweepConfig struct {
	once bool
}

// NewSweepCmd creates the sweep subcommand.
func NewSweepCmd() *cobra.Command {
	cfg := &sweepConfig{}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the token retention sweeper",
		Long: `Run the retention sweeper which periodically deletes expired refresh
tokens, revoked refresh tokens, and expired verification tokens from the
PostgreSQL database.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweepWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	cmd.Flags().BoolVar(&cfg.once, "once", false, "run a single sweep and exit")
	registerConfigFlags(cmd.Flags())

	return cmd
}

// sweepResult holds the outcome of a single retention sweep.
type sweepResult struct {
	RefreshExpired      int64
	RefreshRevoked      int64
	VerificationExpired int64
	Failures            int
}

// runSweepWithDeps starts the retention sweeper with injectable dependencies.
// If deps is nil, default implementations are used.
func runSweepWithDeps(ctx context.Context, cfg *sweepConfig, cmd *cobra.Command, deps *SweepDeps) error {
	deps = withSweepDefaults(deps)

	conf, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logging.SetDefault("keyfold", version, conf.Log.Format, conf.Log.Level)

	slog.Info("starting retention sweeper",
		"interval", conf.SweepInterval().String(),
		"once", cfg.once,
	)

	refreshStore, verificationStore, cleanup, err := deps.StoresFactory(ctx, conf.Database.URL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer cleanup()

	slog.Info("connected to database")

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The sweeper is ready once the database connection is established.
	obsServer := deps.ObservabilityServerFactory(conf.Observability.Listen, func() bool { return true })
	obsErrChan, err := obsServer.Start()
	if err != nil {
		return oops.Code("OBSERVABILITY_START_FAILED").With("addr", conf.Observability.Listen).Wrap(err)
	}
	// Monitor observability server errors - cancel context on error
	go monitorServerErrors(ctx, cancel, obsErrChan, "observability")

	slog.Info("observability server started", "addr", obsServer.Addr())

	metrics := obsServer.Metrics()

	stopObsServer := func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if stopErr := obsServer.Stop(shutdownCtx); stopErr != nil {
			slog.Warn("error stopping observability server", "error", stopErr)
		}
	}

	executeSweep(ctx, refreshStore, verificationStore, metrics)

	if cfg.once {
		stopObsServer()
		return nil
	}

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ticker := time.NewTicker(conf.SweepInterval())
	defer ticker.Stop()

	cmd.Println("Retention sweeper started")

	for {
		select {
		case <-ticker.C:
			executeSweep(ctx, refreshStore, verificationStore, metrics)
		case sig := <-sigChan:
			slog.Info("received shutdown signal", "signal", sig)
			stopObsServer()
			slog.Info("shutdown complete")
			return nil
		case <-ctx.Done():
			slog.Info("context cancelled, shutting down")
			stopObsServer()
			slog.Info("shutdown complete")
			return nil
		}
	}
}

// executeSweep runs one retention sweep over all token stores. Failures on
// one store do not stop the sweep of the others.
func executeSweep(ctx context.Context, refresh RefreshSweepStore, verifications VerificationSweepStore, metrics *observability.Metrics) sweepResult {
	var result sweepResult

	metrics.SweepRunsTotal.Inc()

	expired, err := refresh.DeleteExpired(ctx)
	if err != nil {
		slog.Error("failed to delete expired refresh tokens", "error", err)
		observability.RecordSweepFailure("refresh_expired")
		result.Failures++
	} else {
		result.RefreshExpired = expired
		metrics.SweepDeletedTotal.WithLabelValues("refresh_expired").Add(float64(expired))
	}

	revoked, err := refresh.DeleteRevoked(ctx)
	if err != nil {
		slog.Error("failed to delete revoked refresh tokens", "error", err)
		observability.RecordSweepFailure("refresh_revoked")
		result.Failures++
	} else {
		result.RefreshRevoked = revoked
		metrics.SweepDeletedTotal.WithLabelValues("refresh_revoked").Add(float64(revoked))
	}

	verificationExpired, err := verifications.DeleteExpired(ctx)
	if err != nil {
		slog.Error("failed to delete expired verification tokens", "error", err)
		observability.RecordSweepFailure("verification_expired")
		result.Failures++
	} else {
		result.VerificationExpired = verificationExpired
		metrics.SweepDeletedTotal.WithLabelValues("verification_expired").Add(float64(verificationExpired))
	}

	slog.Info("retention sweep complete",
		"refresh_expired", result.RefreshExpired,
		"refresh_revoked", result.RefreshRevoked,
		"verification_expired", result.VerificationExpired,
		"failures", result.Failures,
	)

	return result
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// This ensures that server failures trigger graceful shutdown of the entire process.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
		// Context cancelled, exit monitoring
	}
}
