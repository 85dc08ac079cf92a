// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

// Package notify provides auth.Notifier implementations.
//
// Keyfold ships no real mail transport. LogNotifier records deliveries to the
// structured log so operators can wire the secrets into whatever channel they
// run, and RetryNotifier decorates any Notifier with exponential backoff.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/keyfold/keyfold/internal/auth"
)

// LogNotifier logs notifications instead of delivering them.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// SendVerificationEmail logs the verification delivery.
// The secret itself is never logged.
func (n *LogNotifier) SendVerificationEmail(ctx context.Context, to, secret string) error {
	n.logger.InfoContext(ctx, "verification email requested",
		"to", to,
		"secret_len", len(secret))
	return nil
}

// SendPasswordResetEmail logs the password reset delivery.
func (n *LogNotifier) SendPasswordResetEmail(ctx context.Context, to, secret string) error {
	n.logger.InfoContext(ctx, "password reset email requested",
		"to", to,
		"secret_len", len(secret))
	return nil
}

// Retry policy defaults for RetryNotifier.
const (
	DefaultMaxRetries  = 3
	DefaultBaseBackoff = 500 * time.Millisecond
)

// RetryNotifier wraps a Notifier with exponential backoff retries.
type RetryNotifier struct {
	inner       auth.Notifier
	maxRetries  uint64
	baseBackoff time.Duration
	logger      *slog.Logger
}

// NewRetryNotifier creates a RetryNotifier with the default policy.
func NewRetryNotifier(inner auth.Notifier, logger *slog.Logger) (*RetryNotifier, error) {
	return NewRetryNotifierWithPolicy(inner, DefaultMaxRetries, DefaultBaseBackoff, logger)
}

// NewRetryNotifierWithPolicy creates a RetryNotifier with an explicit policy.
func NewRetryNotifierWithPolicy(inner auth.Notifier, maxRetries uint64, baseBackoff time.Duration, logger *slog.Logger) (*RetryNotifier, error) {
	if inner == nil {
		return nil, oops.Errorf("inner notifier is required")
	}
	if baseBackoff <= 0 {
		baseBackoff = DefaultBaseBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryNotifier{
		inner:       inner,
		maxRetries:  maxRetries,
		baseBackoff: baseBackoff,
		logger:      logger,
	}, nil
}

// SendVerificationEmail delivers with retries.
func (n *RetryNotifier) SendVerificationEmail(ctx context.Context, to, secret string) error {
	return n.send(ctx, "verification", func(ctx context.Context) error {
		return n.inner.SendVerificationEmail(ctx, to, secret)
	})
}

// SendPasswordResetEmail delivers with retries.
func (n *RetryNotifier) SendPasswordResetEmail(ctx context.Context, to, secret string) error {
	return n.send(ctx, "password_reset", func(ctx context.Context) error {
		return n.inner.SendPasswordResetEmail(ctx, to, secret)
	})
}

func (n *RetryNotifier) send(ctx context.Context, kind string, deliver func(context.Context) error) error {
	backoff := retry.WithMaxRetries(n.maxRetries, retry.NewExponential(n.baseBackoff))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := deliver(ctx); err != nil {
			n.logger.WarnContext(ctx, "notification delivery failed",
				"kind", kind,
				"attempt", attempt,
				"error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("NOTIFY_DELIVERY_FAILED").
			With("kind", kind).
			With("attempts", attempt).
			Wrap(err)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ auth.Notifier = (*LogNotifier)(nil)
	_ auth.Notifier = (*RetryNotifier)(nil)
)
