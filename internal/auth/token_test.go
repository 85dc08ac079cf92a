// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/keyfold/internal/auth"
	"github.com/keyfold/keyfold/pkg/errutil"
)

var testSigningSecret = []byte("0123456789abcdef0123456789abcdef")

func TestNewTokenCodec(t *testing.T) {
	t.Run("rejects short signing secret", func(t *testing.T) {
		codec, err := auth.NewTokenCodec([]byte("too-short"), 0)
		require.Error(t, err)
		assert.Nil(t, codec)
		errutil.AssertErrorCode(t, err, "AUTH_SIGNING_SECRET_TOO_SHORT")
	})

	t.Run("applies default access TTL", func(t *testing.T) {
		codec, err := auth.NewTokenCodec(testSigningSecret, 0)
		require.NoError(t, err)
		assert.Equal(t, auth.DefaultAccessTokenTTL, codec.AccessTTL())
	})

	t.Run("keeps explicit access TTL", func(t *testing.T) {
		codec, err := auth.NewTokenCodec(testSigningSecret, 5*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 5*time.Minute, codec.AccessTTL())
	})
}

func TestAccessToken_RoundTrip(t *testing.T) {
	codec, err := auth.NewTokenCodec(testSigningSecret, 0)
	require.NoError(t, err)

	accountID := ulid.Make()
	signed, err := codec.IssueAccessToken(accountID)
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	claims, err := codec.VerifyAccessToken(signed)
	require.NoError(t, err)
	assert.Equal(t, accountID.String(), claims.AccountID)
}

func TestAccessToken_Expiry(t *testing.T) {
	base := time.Now()
	codec, err := auth.NewTokenCodec(testSigningSecret, 15*time.Minute)
	require.NoError(t, err)

	issuer := codec.WithClock(func() time.Time { return base })
	signed, err := issuer.IssueAccessToken(ulid.Make())
	require.NoError(t, err)

	t.Run("valid before expiry", func(t *testing.T) {
		verifier := codec.WithClock(func() time.Time { return base.Add(14 * time.Minute) })
		_, err := verifier.VerifyAccessToken(signed)
		assert.NoError(t, err)
	})

	t.Run("invalid after expiry", func(t *testing.T) {
		verifier := codec.WithClock(func() time.Time { return base.Add(16 * time.Minute) })
		_, err := verifier.VerifyAccessToken(signed)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_TOKEN_INVALID")
	})
}

func TestVerifyAccessToken_Invalid(t *testing.T) {
	codec, err := auth.NewTokenCodec(testSigningSecret, 0)
	require.NoError(t, err)

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := codec.VerifyAccessToken("not-a-token")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_TOKEN_INVALID")
	})

	t.Run("rejects tampered payload", func(t *testing.T) {
		signed, err := codec.IssueAccessToken(ulid.Make())
		require.NoError(t, err)

		parts := strings.Split(signed, ".")
		require.Len(t, parts, 3)
		tampered := parts[0] + ".eyJhY2NvdW50X2lkIjoiZm9yZ2VkIn0." + parts[2]

		_, err = codec.VerifyAccessToken(tampered)
		assert.Error(t, err)
	})

	t.Run("rejects token signed with a different secret", func(t *testing.T) {
		other, err := auth.NewTokenCodec([]byte("ffffffffffffffffffffffffffffffff"), 0)
		require.NoError(t, err)

		signed, err := other.IssueAccessToken(ulid.Make())
		require.NoError(t, err)

		_, err = codec.VerifyAccessToken(signed)
		assert.Error(t, err)
	})
}

func TestGenerateOpaqueSecret(t *testing.T) {
	t.Run("secret is 32 bytes hex-encoded", func(t *testing.T) {
		secret, hash, err := auth.GenerateOpaqueSecret()
		require.NoError(t, err)
		assert.Len(t, secret, auth.OpaqueSecretBytes*2)
		assert.Len(t, hash, 64) // sha-256 hex
	})

	t.Run("hash matches HashOpaqueSecret", func(t *testing.T) {
		secret, hash, err := auth.GenerateOpaqueSecret()
		require.NoError(t, err)
		assert.Equal(t, hash, auth.HashOpaqueSecret(secret))
	})

	t.Run("secrets are unique", func(t *testing.T) {
		seen := make(map[string]bool)
		for range 100 {
			secret, _, err := auth.GenerateOpaqueSecret()
			require.NoError(t, err)
			assert.False(t, seen[secret])
			seen[secret] = true
		}
	})
}

func TestVerifyOpaqueSecret(t *testing.T) {
	secret, hash, err := auth.GenerateOpaqueSecret()
	require.NoError(t, err)

	t.Run("correct secret verifies", func(t *testing.T) {
		assert.True(t, auth.VerifyOpaqueSecret(secret, hash))
	})

	t.Run("wrong secret fails", func(t *testing.T) {
		other, _, err := auth.GenerateOpaqueSecret()
		require.NoError(t, err)
		assert.False(t, auth.VerifyOpaqueSecret(other, hash))
	})

	t.Run("empty secret fails", func(t *testing.T) {
		assert.False(t, auth.VerifyOpaqueSecret("", hash))
	})
}

func TestTimingSafeEqual(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want bool
	}{
		{"equal values", "deadbeef", "deadbeef", true},
		{"different values", "deadbeef", "cafebabe", false},
		{"different lengths", "deadbeef", "dead", false},
		{"not hex", "zzzz", "zzzz", false},
		{"both empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.TimingSafeEqual(tt.a, tt.b))
		})
	}
}
