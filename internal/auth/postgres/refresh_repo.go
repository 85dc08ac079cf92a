// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyfold/keyfold/internal/auth"
)

// RefreshTokenRepository implements auth.RefreshTokenStore using PostgreSQL.
type RefreshTokenRepository struct {
	pool DB
}

// NewRefreshTokenRepository creates a new RefreshTokenRepository.
func NewRefreshTokenRepository(pool DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{pool: pool}
}

// Create stores a new refresh token.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *auth.RefreshToken) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (id, account_id, token_hash, device_info, expires_at, revoked_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		token.ID.String(),
		token.AccountID.String(),
		token.TokenHash,
		token.DeviceInfo,
		token.ExpiresAt,
		token.RevokedAt,
		token.CreatedAt,
	)
	if err != nil {
		return oops.Code("REFRESH_CREATE_FAILED").
			With("operation", "insert refresh_token").
			With("account_id", token.AccountID.String()).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a refresh token by its hash, regardless of state.
func (r *RefreshTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.RefreshToken, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, account_id, token_hash, device_info, expires_at, revoked_at, created_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`, tokenHash)

	token, err := r.scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("REFRESH_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return token, nil
}

// GetValidByTokenHash retrieves a refresh token by hash, treating revoked and
// expired tokens the same as absent ones.
func (r *RefreshTokenRepository) GetValidByTokenHash(ctx context.Context, tokenHash string) (*auth.RefreshToken, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, account_id, token_hash, device_info, expires_at, revoked_at, created_at
		FROM refresh_tokens
		WHERE token_hash = $1
		  AND revoked_at IS NULL
		  AND expires_at > NOW()
	`, tokenHash)

	token, err := r.scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("REFRESH_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return token, nil
}

// GetByAccount retrieves all refresh tokens for an account, newest first.
func (r *RefreshTokenRepository) GetByAccount(ctx context.Context, accountID ulid.ULID) ([]*auth.RefreshToken, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, token_hash, device_info, expires_at, revoked_at, created_at
		FROM refresh_tokens
		WHERE account_id = $1
		ORDER BY created_at DESC
	`, accountID.String())
	if err != nil {
		return nil, oops.Code("REFRESH_GET_BY_ACCOUNT_FAILED").
			With("operation", "query refresh_tokens by account").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	defer rows.Close()

	var tokens []*auth.RefreshToken
	for rows.Next() {
		token, err := r.scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("REFRESH_GET_BY_ACCOUNT_FAILED").
			With("operation", "iterate refresh_tokens").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return tokens, nil
}

// Revoke marks a refresh token revoked. Revoking an already revoked token is
// a no-op that preserves the original revocation timestamp.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id ulid.ULID) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = NOW()
		WHERE id = $1 AND revoked_at IS NULL
	`, id.String())
	if err != nil {
		return oops.Code("REFRESH_REVOKE_FAILED").
			With("operation", "revoke refresh_token").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		// Distinguish an already revoked token from a missing one.
		var exists bool
		if err := r.pool.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE id = $1)
		`, id.String()).Scan(&exists); err != nil {
			return oops.Code("REFRESH_REVOKE_FAILED").
				With("operation", "check refresh_token exists").
				With("id", id.String()).
				Wrap(err)
		}
		if !exists {
			return oops.Code("REFRESH_NOT_FOUND").
				With("id", id.String()).
				Wrap(auth.ErrNotFound)
		}
	}
	return nil
}

// RevokeByTokenHash revokes the refresh token with the given hash. A hash
// that matches nothing is silently accepted; logout must be idempotent.
func (r *RefreshTokenRepository) RevokeByTokenHash(ctx context.Context, tokenHash string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = NOW()
		WHERE token_hash = $1 AND revoked_at IS NULL
	`, tokenHash)
	if err != nil {
		return oops.Code("REFRESH_REVOKE_FAILED").
			With("operation", "revoke refresh_token by hash").
			Wrap(err)
	}
	return nil
}

// RevokeAllForAccount revokes every active refresh token for an account and
// returns the count.
func (r *RefreshTokenRepository) RevokeAllForAccount(ctx context.Context, accountID ulid.ULID) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = NOW()
		WHERE account_id = $1 AND revoked_at IS NULL
	`, accountID.String())
	if err != nil {
		return 0, oops.Code("REFRESH_REVOKE_ALL_FAILED").
			With("operation", "revoke refresh_tokens for account").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes all expired refresh tokens and returns the count.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM refresh_tokens WHERE expires_at < NOW()
	`)
	if err != nil {
		return 0, oops.Code("REFRESH_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired refresh_tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// DeleteRevoked removes all revoked refresh tokens and returns the count.
func (r *RefreshTokenRepository) DeleteRevoked(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM refresh_tokens WHERE revoked_at IS NOT NULL
	`)
	if err != nil {
		return 0, oops.Code("REFRESH_DELETE_REVOKED_FAILED").
			With("operation", "delete revoked refresh_tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanToken scans a single row into a RefreshToken.
// Callers are responsible for handling pgx.ErrNoRows.
func (r *RefreshTokenRepository) scanToken(row pgx.Row) (*auth.RefreshToken, error) {
	var (
		idStr        string
		accountIDStr string
		tokenHash    string
		deviceInfo   *string
		expiresAt    time.Time
		revokedAt    *time.Time
		createdAt    time.Time
	)

	err := row.Scan(&idStr, &accountIDStr, &tokenHash, &deviceInfo, &expiresAt, &revokedAt, &createdAt)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("REFRESH_SCAN_FAILED").
			With("operation", "scan refresh_token").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("REFRESH_INVALID_ID").
			With("operation", "parse refresh_token id").
			With("id", idStr).
			Wrap(err)
	}

	accountID, err := ulid.Parse(accountIDStr)
	if err != nil {
		return nil, oops.Code("REFRESH_INVALID_ACCOUNT_ID").
			With("operation", "parse account id").
			With("account_id", accountIDStr).
			Wrap(err)
	}

	return &auth.RefreshToken{
		ID:         id,
		AccountID:  accountID,
		TokenHash:  tokenHash,
		DeviceInfo: deviceInfo,
		ExpiresAt:  expiresAt,
		RevokedAt:  revokedAt,
		CreatedAt:  createdAt,
	}, nil
}

// Compile-time interface check.
var _ auth.RefreshTokenStore = (*RefreshTokenRepository)(nil)
