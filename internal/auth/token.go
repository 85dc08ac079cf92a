// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Opaque secret configuration.
const (
	// OpaqueSecretBytes is the entropy of refresh and verification secrets.
	// 32 bytes = 64 hex chars.
	OpaqueSecretBytes = 32

	// MinSigningSecretBytes is the minimum accepted access-token signing key size.
	MinSigningSecretBytes = 32

	// DefaultAccessTokenTTL is the access-token lifetime when none is configured.
	DefaultAccessTokenTTL = 15 * time.Minute
)

// ErrInvalidToken is the generic verification failure for access tokens.
// Expired, malformed, and forged tokens are indistinguishable to callers.
var ErrInvalidToken = oops.Code("AUTH_TOKEN_INVALID").Errorf("invalid or expired token")

// AccessClaims are the claims embedded in a signed access token.
type AccessClaims struct {
	AccountID string `json:"account_id"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies stateless access tokens and generates the
// opaque secrets used for refresh and verification tokens.
type TokenCodec struct {
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
}

// NewTokenCodec creates a TokenCodec. The signing secret must be at least
// MinSigningSecretBytes long; accessTTL <= 0 selects DefaultAccessTokenTTL.
func NewTokenCodec(secret []byte, accessTTL time.Duration) (*TokenCodec, error) {
	if len(secret) < MinSigningSecretBytes {
		return nil, oops.Code("AUTH_SIGNING_SECRET_TOO_SHORT").
			With("min_bytes", MinSigningSecretBytes).
			Errorf("signing secret must be at least %d bytes", MinSigningSecretBytes)
	}
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	return &TokenCodec{
		secret:    secret,
		accessTTL: accessTTL,
		now:       time.Now,
	}, nil
}

// WithClock returns a copy of the codec using the given clock.
// Used in tests to simulate token expiry deterministically.
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	clone := *c
	clone.now = now
	return &clone
}

// IssueAccessToken produces a signed HS256 token for the account, expiring
// AccessTTL from now.
func (c *TokenCodec) IssueAccessToken(accountID ulid.ULID) (string, error) {
	now := c.now()
	claims := AccessClaims{
		AccountID: accountID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(c.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", oops.Code("AUTH_TOKEN_SIGN_FAILED").Wrap(err)
	}
	return signed, nil
}

// VerifyAccessToken verifies the signature and expiry of a signed token and
// returns its claims. Only HS256 is accepted; the algorithm asserted by the
// token itself is never trusted. All failure modes return ErrInvalidToken.
func (c *TokenCodec) VerifyAccessToken(signed string) (*AccessClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	)

	token, err := parser.ParseWithClaims(signed, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.AccountID == "" {
		return nil, ErrInvalidToken
	}
	if _, err := ulid.Parse(claims.AccountID); err != nil {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// AccessTTL returns the configured access-token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration {
	return c.accessTTL
}

// GenerateOpaqueSecret creates a secure random secret and its storage hash.
// Returns (plaintext_secret, sha256_hash, error). The plaintext is sent to
// the client; only the hash is persisted.
func GenerateOpaqueSecret() (secret, hash string, err error) {
	buf := make([]byte, OpaqueSecretBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", oops.Code("AUTH_SECRET_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", OpaqueSecretBytes).
			Wrap(err)
	}

	secret = hex.EncodeToString(buf)
	hash = HashOpaqueSecret(secret)

	return secret, hash, nil
}

// HashOpaqueSecret computes the SHA-256 hash of an opaque secret. A fast
// digest is sufficient here: the input is high-entropy random data, not a
// guessable password.
func HashOpaqueSecret(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}

// TimingSafeEqual compares two hex-encoded digests in constant time.
// Any decoding failure or length mismatch compares as false, never an error.
func TimingSafeEqual(a, b string) bool {
	rawA, err := hex.DecodeString(a)
	if err != nil {
		return false
	}
	rawB, err := hex.DecodeString(b)
	if err != nil {
		return false
	}
	if len(rawA) != len(rawB) {
		return false
	}
	return subtle.ConstantTimeCompare(rawA, rawB) == 1
}

// VerifyOpaqueSecret checks if the plaintext secret matches the stored hash.
// Guards against a poisoned index lookup returning the wrong row.
func VerifyOpaqueSecret(secret, storedHash string) bool {
	if secret == "" || storedHash == "" {
		return false
	}
	return TimingSafeEqual(HashOpaqueSecret(secret), storedHash)
}
