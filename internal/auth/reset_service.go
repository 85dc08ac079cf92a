// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/keyfold/keyfold/pkg/errutil"
)

// PasswordResetService handles the forgot-password flow: issuing single-use
// reset tokens and applying new passwords. Requesting a reset never reveals
// whether an address has an account.
type PasswordResetService struct {
	accounts      AccountStore
	verifications VerificationTokenStore
	refreshTokens RefreshTokenStore
	hasher        PasswordHasher
	notifier      Notifier
	logger        *slog.Logger
	metrics       MetricsRecorder
	now           func() time.Time
}

// NewPasswordResetService creates a new PasswordResetService.
func NewPasswordResetService(
	accounts AccountStore,
	verifications VerificationTokenStore,
	refreshTokens RefreshTokenStore,
	hasher PasswordHasher,
	notifier Notifier,
) (*PasswordResetService, error) {
	return NewPasswordResetServiceWithLogger(accounts, verifications, refreshTokens, hasher, notifier, slog.Default())
}

// NewPasswordResetServiceWithLogger creates a new PasswordResetService with
// an explicit logger.
func NewPasswordResetServiceWithLogger(
	accounts AccountStore,
	verifications VerificationTokenStore,
	refreshTokens RefreshTokenStore,
	hasher PasswordHasher,
	notifier Notifier,
	logger *slog.Logger,
) (*PasswordResetService, error) {
	if accounts == nil {
		return nil, oops.Errorf("account store is required")
	}
	if verifications == nil {
		return nil, oops.Errorf("verification token store is required")
	}
	if refreshTokens == nil {
		return nil, oops.Errorf("refresh token store is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if notifier == nil {
		return nil, oops.Errorf("notifier is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return &PasswordResetService{
		accounts:      accounts,
		verifications: verifications,
		refreshTokens: refreshTokens,
		hasher:        hasher,
		notifier:      notifier,
		logger:        logger,
		metrics:       noopMetrics,
		now:           time.Now,
	}, nil
}

// RequestReset issues a password-reset secret for the given email. Malformed
// addresses and addresses without an account both return nil so the endpoint
// cannot be used to probe for registered emails. Any prior outstanding reset
// tokens for the account are invalidated first.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) (err error) {
	defer func() { s.metrics("reset_request", operationResult(err)) }()

	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("AUTH_RESET_REQUEST_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	if _, err := s.verifications.DeleteByAccountAndPurpose(ctx, account.ID, PurposePasswordReset); err != nil {
		return oops.Code("AUTH_RESET_REQUEST_FAILED").
			With("operation", "purge prior reset tokens").
			Wrap(err)
	}

	secret, tokenHash, err := GenerateOpaqueSecret()
	if err != nil {
		return oops.Code("AUTH_RESET_REQUEST_FAILED").
			With("operation", "generate reset secret").
			Wrap(err)
	}

	token, err := NewVerificationToken(account.ID, tokenHash, PurposePasswordReset)
	if err != nil {
		return err
	}
	if err := s.verifications.Create(ctx, token); err != nil {
		return oops.Code("AUTH_RESET_REQUEST_FAILED").
			With("operation", "create reset token").
			Wrap(err)
	}

	if err := s.notifier.SendPasswordResetEmail(ctx, account.Email, secret); err != nil {
		errutil.LogError(s.logger, "password reset email delivery failed", err)
	}
	return nil
}

// ResetPassword sets a new password using a reset secret, consumes the
// token, and revokes every refresh token the account holds. Policy checks
// run before the token lookup so a weak password never spends the token.
func (s *PasswordResetService) ResetPassword(ctx context.Context, secret, newPassword string) (err error) {
	defer func() { s.metrics("reset_password", operationResult(err)) }()

	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	if secret == "" {
		return invalidToken()
	}

	tokenHash := HashOpaqueSecret(secret)
	token, err := s.verifications.GetValidByTokenHash(ctx, tokenHash, PurposePasswordReset)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return invalidToken()
		}
		return oops.Code("AUTH_RESET_FAILED").
			With("operation", "get reset token by hash").
			Wrap(err)
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("AUTH_RESET_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	if err := s.accounts.UpdatePassword(ctx, token.AccountID, newHash); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("AUTH_ACCOUNT_NOT_FOUND").
				With("account_id", token.AccountID.String()).
				Errorf("account not found")
		}
		return oops.Code("AUTH_RESET_FAILED").
			With("operation", "update password").
			Wrap(err)
	}

	if err := consumeVerificationToken(ctx, s.verifications, token, s.now()); err != nil {
		return err
	}

	// A password reset implies the old credential may be compromised; every
	// open session goes with it.
	revoked, err := s.refreshTokens.RevokeAllForAccount(ctx, token.AccountID)
	if err != nil {
		return oops.Code("AUTH_RESET_FAILED").
			With("operation", "revoke refresh tokens").
			Wrap(err)
	}
	s.logger.InfoContext(ctx, "password reset completed",
		slog.String("account_id", token.AccountID.String()),
		slog.Int64("sessions_revoked", revoked))
	return nil
}
