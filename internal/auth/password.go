// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import (
	"unicode"

	"github.com/samber/oops"
)

// MinPasswordLength is the minimum accepted password length.
const MinPasswordLength = 8

// PasswordViolations returns every policy rule the password breaks, in a
// stable order. An empty slice means the password is acceptable.
func PasswordViolations(password string) []string {
	var violations []string

	if len(password) < MinPasswordLength {
		violations = append(violations, "password must be at least 8 characters")
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}

	if !hasUpper {
		violations = append(violations, "password must contain uppercase letter")
	}
	if !hasLower {
		violations = append(violations, "password must contain lowercase letter")
	}
	if !hasDigit {
		violations = append(violations, "password must contain number")
	}
	if !hasSpecial {
		violations = append(violations, "password must contain special character")
	}

	return violations
}

// ValidatePassword checks the password against the strength policy.
// The returned error carries the full violation list, not just the first.
func ValidatePassword(password string) error {
	violations := PasswordViolations(password)
	if len(violations) == 0 {
		return nil
	}
	return oops.Code("AUTH_WEAK_PASSWORD").
		With("violations", violations).
		Errorf("password does not meet strength requirements")
}
