// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package errutil

import (
	"net/http"

	"github.com/samber/oops"
)

// StatusHint maps an error to the HTTP status a transport layer should
// respond with. Errors without an oops code, and codes without a mapping,
// hint 500 so infrastructure failures are never mistaken for client faults.
func StatusHint(err error) int {
	if err == nil {
		return http.StatusOK
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch oopsErr.Code() {
	case "AUTH_EMAIL_EXISTS":
		return http.StatusConflict
	case "AUTH_INVALID_CREDENTIALS", "AUTH_TOKEN_INVALID":
		return http.StatusUnauthorized
	case "AUTH_WEAK_PASSWORD", "AUTH_INVALID_EMAIL", "AUTH_INVALID_ACCOUNT":
		return http.StatusBadRequest
	case "AUTH_ACCOUNT_NOT_FOUND":
		return http.StatusNotFound
	case "AUTH_ACCOUNT_LOCKED":
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
