// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Verification token lifetimes. These are fixed by the product flows rather
// than configuration: a verification link in a day-old email should still
// work, a reset link should not.
const (
	EmailVerifyTTL   = 24 * time.Hour
	PasswordResetTTL = time.Hour
)

// VerificationPurpose scopes a verification token to a single flow.
type VerificationPurpose string

// Supported verification purposes.
const (
	PurposeEmailVerify   VerificationPurpose = "email_verify"
	PurposePasswordReset VerificationPurpose = "password_reset"
)

// TTL returns the token lifetime for the purpose.
func (p VerificationPurpose) TTL() time.Duration {
	if p == PurposePasswordReset {
		return PasswordResetTTL
	}
	return EmailVerifyTTL
}

// Valid returns true for a known purpose.
func (p VerificationPurpose) Valid() bool {
	return p == PurposeEmailVerify || p == PurposePasswordReset
}

// VerificationToken represents a single-use token proving control of an
// email address. Only the SHA-256 hash of the secret is stored.
type VerificationToken struct {
	ID        ulid.ULID
	AccountID ulid.ULID
	TokenHash string
	Purpose   VerificationPurpose
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// NewVerificationToken creates a validated VerificationToken record with the
// purpose's fixed TTL.
func NewVerificationToken(accountID ulid.ULID, tokenHash string, purpose VerificationPurpose) (*VerificationToken, error) {
	if accountID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("VERIFICATION_INVALID_ACCOUNT").Errorf("account ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("VERIFICATION_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if !purpose.Valid() {
		return nil, oops.Code("VERIFICATION_INVALID_PURPOSE").
			With("purpose", string(purpose)).
			Errorf("unknown verification purpose")
	}

	now := time.Now()
	return &VerificationToken{
		ID:        ulid.Make(),
		AccountID: accountID,
		TokenHash: tokenHash,
		Purpose:   purpose,
		ExpiresAt: now.Add(purpose.TTL()),
		CreatedAt: now,
	}, nil
}

// IsExpired returns true if the token has expired.
func (t *VerificationToken) IsExpired() bool {
	return t.IsExpiredAt(time.Now())
}

// IsExpiredAt returns true if the token would be expired at the given time.
func (t *VerificationToken) IsExpiredAt(at time.Time) bool {
	return at.After(t.ExpiresAt)
}

// IsUsed returns true if the token has been consumed.
func (t *VerificationToken) IsUsed() bool {
	return t.UsedAt != nil
}

// VerificationTokenStore manages verification token persistence.
type VerificationTokenStore interface {
	// Create stores a new verification token record.
	Create(ctx context.Context, token *VerificationToken) error

	// GetValidByTokenHash retrieves a record by hash, filtered to unused,
	// unexpired, and matching the purpose. Used, expired, absent, and
	// wrong-purpose records all return ErrNotFound; callers cannot tell
	// those cases apart.
	GetValidByTokenHash(ctx context.Context, tokenHash string, purpose VerificationPurpose) (*VerificationToken, error)

	// MarkUsed sets UsedAt on a record.
	MarkUsed(ctx context.Context, id ulid.ULID, usedAt time.Time) error

	// DeleteByAccountAndPurpose removes every record for the account with the
	// given purpose and returns the count.
	DeleteByAccountAndPurpose(ctx context.Context, accountID ulid.ULID, purpose VerificationPurpose) (int64, error)

	// DeleteExpired removes all expired records and returns the count.
	DeleteExpired(ctx context.Context) (int64, error)
}
