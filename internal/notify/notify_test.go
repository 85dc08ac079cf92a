// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package notify_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/keyfold/internal/notify"
	"github.com/keyfold/keyfold/pkg/errutil"
)

// flakyNotifier fails a fixed number of times before succeeding.
type flakyNotifier struct {
	failures int
	calls    int
}

func (f *flakyNotifier) SendVerificationEmail(_ context.Context, _, _ string) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("smtp unavailable")
	}
	return nil
}

func (f *flakyNotifier) SendPasswordResetEmail(_ context.Context, _, _ string) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("smtp unavailable")
	}
	return nil
}

func TestLogNotifier_LogsWithoutSecret(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	n := notify.NewLogNotifier(logger)

	err := n.SendVerificationEmail(context.Background(), "user@example.com", "super-secret-token")
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "user@example.com")
	assert.NotContains(t, output, "super-secret-token", "secret must never reach the log")

	buf.Reset()
	err = n.SendPasswordResetEmail(context.Background(), "user@example.com", "reset-secret")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "password reset")
	assert.NotContains(t, buf.String(), "reset-secret")
}

func TestNewRetryNotifier_NilInner(t *testing.T) {
	_, err := notify.NewRetryNotifier(nil, nil)
	require.Error(t, err)
}

func TestRetryNotifier_SucceedsAfterTransientFailures(t *testing.T) {
	inner := &flakyNotifier{failures: 2}
	n, err := notify.NewRetryNotifierWithPolicy(inner, 3, time.Millisecond, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	err = n.SendVerificationEmail(context.Background(), "user@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, 3, inner.calls, "two failures then one success")
}

func TestRetryNotifier_GivesUpAfterMaxRetries(t *testing.T) {
	inner := &flakyNotifier{failures: 100}
	n, err := notify.NewRetryNotifierWithPolicy(inner, 2, time.Millisecond, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	err = n.SendPasswordResetEmail(context.Background(), "user@example.com", "secret")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "NOTIFY_DELIVERY_FAILED")
	assert.Equal(t, 3, inner.calls, "initial attempt plus two retries")
}

func TestRetryNotifier_FirstAttemptSucceeds(t *testing.T) {
	inner := &flakyNotifier{}
	n, err := notify.NewRetryNotifier(inner, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	require.NoError(t, n.SendVerificationEmail(context.Background(), "user@example.com", "secret"))
	assert.Equal(t, 1, inner.calls)
}
