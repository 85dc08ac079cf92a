// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyfold/keyfold/pkg/errutil"
)

// dummyPasswordHash is used when an account doesn't exist to prevent timing
// attacks. We still run password verification to make response time
// consistent. This is NOT a real credential - it's a fake hash that will
// never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// RegisterResult is the outcome of a successful registration. Registration
// never returns tokens; the email must be verified before login succeeds.
type RegisterResult struct {
	AccountID ulid.ULID
	Message   string
}

// LoginResult carries the credentials issued by a successful login.
type LoginResult struct {
	AccessToken   string
	RefreshSecret string
	Account       *Account
}

// Service provides the account session use cases: register, login, refresh,
// logout, and email verification.
type Service struct {
	accounts      AccountStore
	refreshTokens RefreshTokenStore
	verifications VerificationTokenStore
	hasher        PasswordHasher
	codec         *TokenCodec
	notifier      Notifier
	refreshTTL    time.Duration
	logger        *slog.Logger
	metrics       MetricsRecorder
	now           func() time.Time
}

// NewAuthService creates a new Service. refreshTTL <= 0 selects
// DefaultRefreshTokenTTL.
func NewAuthService(
	accounts AccountStore,
	refreshTokens RefreshTokenStore,
	verifications VerificationTokenStore,
	hasher PasswordHasher,
	codec *TokenCodec,
	notifier Notifier,
	refreshTTL time.Duration,
) (*Service, error) {
	return NewAuthServiceWithLogger(accounts, refreshTokens, verifications, hasher, codec, notifier, refreshTTL, slog.Default())
}

// NewAuthServiceWithLogger creates a new Service with an explicit logger.
func NewAuthServiceWithLogger(
	accounts AccountStore,
	refreshTokens RefreshTokenStore,
	verifications VerificationTokenStore,
	hasher PasswordHasher,
	codec *TokenCodec,
	notifier Notifier,
	refreshTTL time.Duration,
	logger *slog.Logger,
) (*Service, error) {
	if accounts == nil {
		return nil, oops.Errorf("account store is required")
	}
	if refreshTokens == nil {
		return nil, oops.Errorf("refresh token store is required")
	}
	if verifications == nil {
		return nil, oops.Errorf("verification token store is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if codec == nil {
		return nil, oops.Errorf("token codec is required")
	}
	if notifier == nil {
		return nil, oops.Errorf("notifier is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}
	return &Service{
		accounts:      accounts,
		refreshTokens: refreshTokens,
		verifications: verifications,
		hasher:        hasher,
		codec:         codec,
		notifier:      notifier,
		refreshTTL:    refreshTTL,
		logger:        logger,
		metrics:       noopMetrics,
		now:           time.Now,
	}, nil
}

// Register creates an unverified account and sends an email-verification
// secret to the given address. The email is normalized before any check;
// password policy violations are reported all at once.
func (s *Service) Register(ctx context.Context, email, password string) (result *RegisterResult, err error) {
	defer func() { s.metrics("register", operationResult(err)) }()

	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	_, err = s.accounts.GetByEmail(ctx, email)
	if err == nil {
		return nil, oops.Code("AUTH_EMAIL_EXISTS").Errorf("email already exists")
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	account, err := NewAccount(email, passwordHash)
	if err != nil {
		return nil, err
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		// A concurrent registration can win between the existence check and
		// the insert; surface it the same way as the pre-check.
		if errors.Is(err, ErrAlreadyExists) {
			return nil, oops.Code("AUTH_EMAIL_EXISTS").Errorf("email already exists")
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create account").
			Wrap(err)
	}

	secret, tokenHash, err := GenerateOpaqueSecret()
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "generate verification secret").
			Wrap(err)
	}

	token, err := NewVerificationToken(account.ID, tokenHash, PurposeEmailVerify)
	if err != nil {
		return nil, err
	}
	if err := s.verifications.Create(ctx, token); err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create verification token").
			Wrap(err)
	}

	// The token is committed; a failed send must not roll it back. Delivery
	// can be retried out-of-band.
	if err := s.notifier.SendVerificationEmail(ctx, email, secret); err != nil {
		errutil.LogError(s.logger, "verification email delivery failed", err)
	}

	return &RegisterResult{
		AccountID: account.ID,
		Message:   "Registration successful. Please verify your email.",
	}, nil
}

// Login authenticates an account and issues an access token plus a persisted
// refresh token. Unknown account, wrong password, and unverified email all
// fail with the same AUTH_INVALID_CREDENTIALS error so callers cannot
// enumerate accounts. Uses constant-time operations throughout.
func (s *Service) Login(ctx context.Context, email, password, deviceInfo string) (result *LoginResult, err error) {
	defer func() { s.metrics("login", operationResult(err)) }()

	email = NormalizeEmail(email)

	account, lookupErr := s.accounts.GetByEmail(ctx, email)

	// Determine which hash to verify against (real or dummy for timing
	// attack prevention).
	var targetHash string
	var accountExists bool

	if lookupErr != nil {
		if errors.Is(lookupErr, ErrNotFound) {
			targetHash = dummyPasswordHash
			accountExists = false
		} else {
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get account by email").
				Wrap(lookupErr)
		}
	} else {
		targetHash = account.PasswordHash
		accountExists = true
	}

	// Always verify, even against the dummy hash.
	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if !accountExists {
			return nil, invalidCredentials()
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}

	if !accountExists || !valid {
		if accountExists {
			account.RecordFailure()
			_ = s.accounts.Update(ctx, account) //nolint:errcheck // Best effort
			state := CheckFailures(account.FailedAttempts, account.LockedUntil)
			return nil, invalidCredentialsAfter(state.Delay)
		}
		return nil, invalidCredentials()
	}

	// Check lockout AFTER password verification to maintain constant time.
	if account.IsLocked() {
		state := CheckFailures(account.FailedAttempts, account.LockedUntil)
		return nil, oops.Code("AUTH_ACCOUNT_LOCKED").
			With("locked_until", account.LockedUntil).
			With("retry_after", state.LockoutRemaining.String()).
			Errorf("account is temporarily locked")
	}

	account.RecordSuccess()

	if s.hasher.NeedsUpgrade(account.PasswordHash) {
		if newHash, hashErr := s.hasher.Hash(password); hashErr == nil {
			account.PasswordHash = newHash
		}
	}

	// Ignore errors - login should succeed even if the bookkeeping update fails.
	_ = s.accounts.Update(ctx, account) //nolint:errcheck // Best effort, login succeeds regardless

	if !account.EmailVerified {
		return nil, invalidCredentials()
	}

	accessToken, err := s.codec.IssueAccessToken(account.ID)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue access token").
			Wrap(err)
	}

	secret, tokenHash, err := GenerateOpaqueSecret()
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "generate refresh secret").
			Wrap(err)
	}

	refresh, err := NewRefreshToken(account.ID, tokenHash, deviceInfo, s.now().Add(s.refreshTTL))
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "create refresh token").
			Wrap(err)
	}
	if err := s.refreshTokens.Create(ctx, refresh); err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "persist refresh token").
			Wrap(err)
	}

	return &LoginResult{
		AccessToken:   accessToken,
		RefreshSecret: secret,
		Account:       account,
	}, nil
}

// Refresh exchanges a valid refresh secret for a new access token. The
// refresh record itself is neither rotated nor extended; it stays valid
// until its own expiry or explicit revocation.
func (s *Service) Refresh(ctx context.Context, refreshSecret string) (accessToken string, err error) {
	defer func() { s.metrics("refresh", operationResult(err)) }()

	if refreshSecret == "" {
		return "", invalidToken()
	}

	tokenHash := HashOpaqueSecret(refreshSecret)
	record, err := s.refreshTokens.GetValidByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", invalidToken()
		}
		return "", oops.Code("AUTH_REFRESH_FAILED").
			With("operation", "get refresh token by hash").
			Wrap(err)
	}

	// Ownership re-check: the stored hash must match the presented secret
	// even when the index lookup already matched on it.
	if !VerifyOpaqueSecret(refreshSecret, record.TokenHash) {
		return "", invalidToken()
	}

	account, err := s.accounts.GetByID(ctx, record.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", oops.Code("AUTH_ACCOUNT_NOT_FOUND").
				With("account_id", record.AccountID.String()).
				Errorf("account not found")
		}
		return "", oops.Code("AUTH_REFRESH_FAILED").
			With("operation", "get account by id").
			Wrap(err)
	}

	accessToken, err = s.codec.IssueAccessToken(account.ID)
	if err != nil {
		return "", oops.Code("AUTH_REFRESH_FAILED").
			With("operation", "issue access token").
			Wrap(err)
	}
	return accessToken, nil
}

// Logout revokes the refresh token with the given secret. An empty secret
// and a secret that matches no record are both silently accepted.
func (s *Service) Logout(ctx context.Context, refreshSecret string) (err error) {
	defer func() { s.metrics("logout", operationResult(err)) }()

	if refreshSecret == "" {
		return nil
	}

	tokenHash := HashOpaqueSecret(refreshSecret)
	if err := s.refreshTokens.RevokeByTokenHash(ctx, tokenHash); err != nil {
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "revoke refresh token by hash").
			Wrap(err)
	}
	return nil
}

// VerifyEmail marks an account's email as verified when the secret resolves
// to a valid email_verify token, then consumes the token.
func (s *Service) VerifyEmail(ctx context.Context, secret string) (err error) {
	defer func() { s.metrics("verify_email", operationResult(err)) }()

	if secret == "" {
		return invalidToken()
	}

	tokenHash := HashOpaqueSecret(secret)
	token, err := s.verifications.GetValidByTokenHash(ctx, tokenHash, PurposeEmailVerify)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return invalidToken()
		}
		return oops.Code("AUTH_VERIFY_EMAIL_FAILED").
			With("operation", "get verification token by hash").
			Wrap(err)
	}

	account, err := s.accounts.GetByID(ctx, token.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("AUTH_ACCOUNT_NOT_FOUND").
				With("account_id", token.AccountID.String()).
				Errorf("account not found")
		}
		return oops.Code("AUTH_VERIFY_EMAIL_FAILED").
			With("operation", "get account by id").
			Wrap(err)
	}

	account.EmailVerified = true
	account.UpdatedAt = s.now()
	if err := s.accounts.Update(ctx, account); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("AUTH_ACCOUNT_NOT_FOUND").
				With("account_id", token.AccountID.String()).
				Errorf("account not found")
		}
		return oops.Code("AUTH_VERIFY_EMAIL_FAILED").
			With("operation", "update account").
			Wrap(err)
	}

	return consumeVerificationToken(ctx, s.verifications, token, s.now())
}

// consumeVerificationToken marks a token used and purges every token with
// the same account and purpose, closing the reuse window for siblings. A
// failed purge surfaces as an error even though the token itself is already
// spent; the caller's operation did not complete cleanly.
func consumeVerificationToken(ctx context.Context, verifications VerificationTokenStore, token *VerificationToken, usedAt time.Time) error {
	if err := verifications.MarkUsed(ctx, token.ID, usedAt); err != nil {
		return oops.Code("AUTH_TOKEN_CONSUME_FAILED").
			With("operation", "mark verification token used").
			With("token_id", token.ID.String()).
			Wrap(err)
	}

	if _, err := verifications.DeleteByAccountAndPurpose(ctx, token.AccountID, token.Purpose); err != nil {
		return oops.Code("AUTH_TOKEN_CONSUME_FAILED").
			With("operation", "purge sibling verification tokens").
			With("account_id", token.AccountID.String()).
			Wrap(err)
	}
	return nil
}

func invalidCredentials() error {
	return oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid email or password")
}

// invalidCredentialsAfter carries the progressive retry delay as error
// context so a transport layer can emit a Retry-After hint. The code and
// message stay identical to invalidCredentials; the delay never reaches the
// response body.
func invalidCredentialsAfter(delay time.Duration) error {
	return oops.Code("AUTH_INVALID_CREDENTIALS").
		With("retry_delay", delay.String()).
		Errorf("invalid email or password")
}

func invalidToken() error {
	return oops.Code("AUTH_TOKEN_INVALID").Errorf("invalid or expired token")
}
