// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/keyfold/internal/auth"
)

var verificationColumns = []string{
	"id", "account_id", "token_hash", "purpose",
	"expires_at", "used_at", "created_at",
}

func testVerificationToken(purpose auth.VerificationPurpose) *auth.VerificationToken {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &auth.VerificationToken{
		ID:        ulid.Make(),
		AccountID: ulid.Make(),
		TokenHash: "def456hash",
		Purpose:   purpose,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
}

func TestVerificationTokenRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts token", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		token := testVerificationToken(auth.PurposeEmailVerify)
		mock.ExpectExec(`INSERT INTO verification_tokens`).
			WithArgs(
				token.ID.String(), token.AccountID.String(), token.TokenHash,
				string(token.Purpose), token.ExpiresAt, token.UsedAt, token.CreatedAt,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		repo := NewVerificationTokenRepository(mock)
		require.NoError(t, repo.Create(ctx, token))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maps unique violation to ErrAlreadyExists", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		token := testVerificationToken(auth.PurposeEmailVerify)
		mock.ExpectExec(`INSERT INTO verification_tokens`).
			WithArgs(
				token.ID.String(), token.AccountID.String(), token.TokenHash,
				string(token.Purpose), token.ExpiresAt, token.UsedAt, token.CreatedAt,
			).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		repo := NewVerificationTokenRepository(mock)
		createErr := repo.Create(ctx, token)
		require.Error(t, createErr)
		assert.ErrorIs(t, createErr, auth.ErrAlreadyExists)
	})

	t.Run("wraps database error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		token := testVerificationToken(auth.PurposePasswordReset)
		mock.ExpectExec(`INSERT INTO verification_tokens`).
			WithArgs(
				token.ID.String(), token.AccountID.String(), token.TokenHash,
				string(token.Purpose), token.ExpiresAt, token.UsedAt, token.CreatedAt,
			).
			WillReturnError(errors.New("connection refused"))

		repo := NewVerificationTokenRepository(mock)
		createErr := repo.Create(ctx, token)
		require.Error(t, createErr)
		assert.Contains(t, createErr.Error(), "connection refused")
	})
}

func TestVerificationTokenRepository_GetValidByTokenHash(t *testing.T) {
	ctx := context.Background()

	t.Run("returns live token for purpose", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		token := testVerificationToken(auth.PurposeEmailVerify)
		rows := pgxmock.NewRows(verificationColumns).AddRow(
			token.ID.String(), token.AccountID.String(), token.TokenHash,
			string(token.Purpose), token.ExpiresAt, token.UsedAt, token.CreatedAt,
		)
		mock.ExpectQuery(`SELECT id, account_id, token_hash, purpose`).
			WithArgs(token.TokenHash, string(auth.PurposeEmailVerify)).
			WillReturnRows(rows)

		repo := NewVerificationTokenRepository(mock)
		got, err := repo.GetValidByTokenHash(ctx, token.TokenHash, auth.PurposeEmailVerify)
		require.NoError(t, err)
		assert.Equal(t, token.ID, got.ID)
		assert.Equal(t, auth.PurposeEmailVerify, got.Purpose)
	})

	t.Run("absent hash is ErrNotFound", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT id, account_id, token_hash, purpose`).
			WithArgs("nope", string(auth.PurposePasswordReset)).
			WillReturnRows(pgxmock.NewRows(verificationColumns))

		repo := NewVerificationTokenRepository(mock)
		got, err := repo.GetValidByTokenHash(ctx, "nope", auth.PurposePasswordReset)
		require.Error(t, err)
		assert.Nil(t, got)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestVerificationTokenRepository_MarkUsed(t *testing.T) {
	ctx := context.Background()

	t.Run("stamps used_at", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := ulid.Make()
		usedAt := time.Now().UTC()
		mock.ExpectExec(`UPDATE verification_tokens SET used_at`).
			WithArgs(id.String(), usedAt).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		repo := NewVerificationTokenRepository(mock)
		require.NoError(t, repo.MarkUsed(ctx, id, usedAt))
	})

	t.Run("already used token is ErrNotFound", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := ulid.Make()
		usedAt := time.Now().UTC()
		mock.ExpectExec(`UPDATE verification_tokens SET used_at`).
			WithArgs(id.String(), usedAt).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		repo := NewVerificationTokenRepository(mock)
		err = repo.MarkUsed(ctx, id, usedAt)
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestVerificationTokenRepository_DeleteByAccountAndPurpose(t *testing.T) {
	ctx := context.Background()

	t.Run("returns deleted count", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		accountID := ulid.Make()
		mock.ExpectExec(`DELETE FROM verification_tokens WHERE account_id`).
			WithArgs(accountID.String(), string(auth.PurposePasswordReset)).
			WillReturnResult(pgxmock.NewResult("DELETE", 2))

		repo := NewVerificationTokenRepository(mock)
		count, err := repo.DeleteByAccountAndPurpose(ctx, accountID, auth.PurposePasswordReset)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("deleting nothing is not an error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		accountID := ulid.Make()
		mock.ExpectExec(`DELETE FROM verification_tokens WHERE account_id`).
			WithArgs(accountID.String(), string(auth.PurposeEmailVerify)).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		repo := NewVerificationTokenRepository(mock)
		count, err := repo.DeleteByAccountAndPurpose(ctx, accountID, auth.PurposeEmailVerify)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestVerificationTokenRepository_DeleteExpired(t *testing.T) {
	ctx := context.Background()

	t.Run("returns deleted count", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`DELETE FROM verification_tokens WHERE expires_at`).
			WillReturnResult(pgxmock.NewResult("DELETE", 4))

		repo := NewVerificationTokenRepository(mock)
		count, err := repo.DeleteExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(4), count)
	})
}
