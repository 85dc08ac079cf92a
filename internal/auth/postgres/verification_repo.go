// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyfold/keyfold/internal/auth"
)

// VerificationTokenRepository implements auth.VerificationTokenStore using PostgreSQL.
type VerificationTokenRepository struct {
	pool DB
}

// NewVerificationTokenRepository creates a new VerificationTokenRepository.
func NewVerificationTokenRepository(pool DB) *VerificationTokenRepository {
	return &VerificationTokenRepository{pool: pool}
}

// Create stores a new verification token. A unique violation on the token
// hash index maps to auth.ErrAlreadyExists so callers can distinguish a hash
// collision from infrastructure failures.
func (r *VerificationTokenRepository) Create(ctx context.Context, token *auth.VerificationToken) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO verification_tokens (id, account_id, token_hash, purpose, expires_at, used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		token.ID.String(),
		token.AccountID.String(),
		token.TokenHash,
		string(token.Purpose),
		token.ExpiresAt,
		token.UsedAt,
		token.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("VERIFICATION_HASH_TAKEN").
				With("purpose", string(token.Purpose)).
				Wrap(auth.ErrAlreadyExists)
		}
		return oops.Code("VERIFICATION_CREATE_FAILED").
			With("operation", "insert verification_token").
			With("account_id", token.AccountID.String()).
			With("purpose", string(token.Purpose)).
			Wrap(err)
	}
	return nil
}

// GetValidByTokenHash retrieves a token by hash and purpose. Used, expired,
// and wrong-purpose tokens all come back as auth.ErrNotFound so a caller
// cannot tell them apart from an absent one.
func (r *VerificationTokenRepository) GetValidByTokenHash(ctx context.Context, tokenHash string, purpose auth.VerificationPurpose) (*auth.VerificationToken, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, account_id, token_hash, purpose, expires_at, used_at, created_at
		FROM verification_tokens
		WHERE token_hash = $1
		  AND purpose = $2
		  AND used_at IS NULL
		  AND expires_at > NOW()
	`, tokenHash, string(purpose))

	token, err := r.scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("VERIFICATION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return token, nil
}

// MarkUsed records the consumption time of a token.
func (r *VerificationTokenRepository) MarkUsed(ctx context.Context, id ulid.ULID, usedAt time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE verification_tokens SET used_at = $2
		WHERE id = $1 AND used_at IS NULL
	`, id.String(), usedAt)
	if err != nil {
		return oops.Code("VERIFICATION_MARK_USED_FAILED").
			With("operation", "mark verification_token used").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("VERIFICATION_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteByAccountAndPurpose removes every token for an account and purpose
// and returns the count. Deleting nothing is a valid state.
func (r *VerificationTokenRepository) DeleteByAccountAndPurpose(ctx context.Context, accountID ulid.ULID, purpose auth.VerificationPurpose) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM verification_tokens WHERE account_id = $1 AND purpose = $2
	`, accountID.String(), string(purpose))
	if err != nil {
		return 0, oops.Code("VERIFICATION_DELETE_FAILED").
			With("operation", "delete verification_tokens by account and purpose").
			With("account_id", accountID.String()).
			With("purpose", string(purpose)).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes all expired verification tokens and returns the count.
func (r *VerificationTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM verification_tokens WHERE expires_at < NOW()
	`)
	if err != nil {
		return 0, oops.Code("VERIFICATION_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired verification_tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanToken scans a single row into a VerificationToken.
// Callers are responsible for handling pgx.ErrNoRows.
func (r *VerificationTokenRepository) scanToken(row pgx.Row) (*auth.VerificationToken, error) {
	var (
		idStr        string
		accountIDStr string
		tokenHash    string
		purpose      string
		expiresAt    time.Time
		usedAt       *time.Time
		createdAt    time.Time
	)

	err := row.Scan(&idStr, &accountIDStr, &tokenHash, &purpose, &expiresAt, &usedAt, &createdAt)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("VERIFICATION_SCAN_FAILED").
			With("operation", "scan verification_token").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("VERIFICATION_INVALID_ID").
			With("operation", "parse verification_token id").
			With("id", idStr).
			Wrap(err)
	}

	accountID, err := ulid.Parse(accountIDStr)
	if err != nil {
		return nil, oops.Code("VERIFICATION_INVALID_ACCOUNT_ID").
			With("operation", "parse account id").
			With("account_id", accountIDStr).
			Wrap(err)
	}

	return &auth.VerificationToken{
		ID:        id,
		AccountID: accountID,
		TokenHash: tokenHash,
		Purpose:   auth.VerificationPurpose(purpose),
		ExpiresAt: expiresAt,
		UsedAt:    usedAt,
		CreatedAt: createdAt,
	}, nil
}

// Compile-time interface check.
var _ auth.VerificationTokenStore = (*VerificationTokenRepository)(nil)
