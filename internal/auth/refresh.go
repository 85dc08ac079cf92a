// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// DefaultRefreshTokenTTL is the refresh-token lifetime when the configured
// value is missing or malformed.
const DefaultRefreshTokenTTL = 7 * 24 * time.Hour

// RefreshToken represents a long-lived session token record. The plaintext
// secret is never stored; TokenHash is its SHA-256 digest.
type RefreshToken struct {
	ID         ulid.ULID
	AccountID  ulid.ULID
	TokenHash  string
	DeviceInfo *string // nil when the client did not report one
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	CreatedAt  time.Time
}

// NewRefreshToken creates a validated RefreshToken record.
// DeviceInfo is optional; an empty string is stored as absent.
func NewRefreshToken(accountID ulid.ULID, tokenHash, deviceInfo string, expiresAt time.Time) (*RefreshToken, error) {
	if accountID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("REFRESH_INVALID_ACCOUNT").Errorf("account ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("REFRESH_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("REFRESH_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}

	var device *string
	if deviceInfo != "" {
		device = &deviceInfo
	}

	return &RefreshToken{
		ID:         ulid.Make(),
		AccountID:  accountID,
		TokenHash:  tokenHash,
		DeviceInfo: device,
		ExpiresAt:  expiresAt,
		CreatedAt:  time.Now(),
	}, nil
}

// IsExpired returns true if the token has expired.
func (t *RefreshToken) IsExpired() bool {
	return t.IsExpiredAt(time.Now())
}

// IsExpiredAt returns true if the token would be expired at the given time.
// Useful for testing with deterministic time values.
func (t *RefreshToken) IsExpiredAt(at time.Time) bool {
	return at.After(t.ExpiresAt)
}

// IsRevoked returns true if the token has been revoked.
func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsValid returns true if the token is neither revoked nor expired.
func (t *RefreshToken) IsValid() bool {
	return !t.IsRevoked() && !t.IsExpired()
}

// RefreshTokenStore manages refresh token persistence.
type RefreshTokenStore interface {
	// Create stores a new refresh token record.
	Create(ctx context.Context, token *RefreshToken) error

	// GetByTokenHash retrieves a record by its token hash regardless of state.
	GetByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error)

	// GetValidByTokenHash retrieves a record by its token hash, filtered to
	// not-revoked and not-expired. Revoked, expired, and absent records all
	// return ErrNotFound.
	GetValidByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error)

	// GetByAccount retrieves all records for an account, newest first.
	GetByAccount(ctx context.Context, accountID ulid.ULID) ([]*RefreshToken, error)

	// Revoke sets RevokedAt on a record. Revoking an already-revoked record
	// is a no-op: the original revocation timestamp is preserved.
	Revoke(ctx context.Context, id ulid.ULID) error

	// RevokeByTokenHash revokes the record with the given hash. A hash that
	// matches no record is silently accepted.
	RevokeByTokenHash(ctx context.Context, tokenHash string) error

	// RevokeAllForAccount revokes every active record for an account and
	// returns the number of records revoked.
	RevokeAllForAccount(ctx context.Context, accountID ulid.ULID) (int64, error)

	// DeleteExpired removes all expired records and returns the count.
	DeleteExpired(ctx context.Context) (int64, error)

	// DeleteRevoked removes all revoked records and returns the count.
	DeleteRevoked(ctx context.Context) (int64, error)
}
