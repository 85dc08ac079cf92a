// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

// Package auth implements the credential and session lifecycle for Keyfold.
//
// # Domain Types
//
// Domain types (Account, RefreshToken, VerificationToken) should be created
// using their respective constructors:
//   - NewAccount - creates an Account with a normalized email and password hash
//   - NewRefreshToken - creates a RefreshToken with validated owner and expiry
//   - NewVerificationToken - creates a purpose-scoped VerificationToken
//
// Direct struct initialization bypasses validation and may create invalid state.
// Store implementations receive pre-validated types from these constructors.
//
// Token secrets are opaque high-entropy values handed to clients in plaintext;
// only their SHA-256 hashes are ever persisted. Signed access tokens are
// stateless and never stored.
//
// # Services
//
// Service types coordinate domain operations:
//   - Service - register, login, refresh, logout, email verification
//   - PasswordResetService - password reset request and completion
//
// Services are created with New*Service constructors that validate
// dependencies. Both depend only on the store, hasher, and notifier
// interfaces declared in this package, so callers can substitute fakes.
package auth
