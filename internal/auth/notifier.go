// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import "context"

// Notifier delivers account emails carrying verification secrets. Delivery is
// best-effort from the services' perspective: a failed or slow send never
// fails the use case that triggered it, and the already-persisted token
// stays valid so delivery can be retried out-of-band.
type Notifier interface {
	// SendVerificationEmail delivers an email-verification secret.
	SendVerificationEmail(ctx context.Context, to, secret string) error

	// SendPasswordResetEmail delivers a password-reset secret.
	SendPasswordResetEmail(ctx context.Context, to, secret string) error
}
