// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package errutil_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/keyfold/keyfold/pkg/errutil"
)

func TestStatusHint(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil error", nil, http.StatusOK},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
		{"uncoded oops error", oops.Errorf("boom"), http.StatusInternalServerError},
		{"unknown code", oops.Code("SOMETHING_ELSE").Errorf("boom"), http.StatusInternalServerError},
		{"email exists", oops.Code("AUTH_EMAIL_EXISTS").Errorf("dup"), http.StatusConflict},
		{"invalid credentials", oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("nope"), http.StatusUnauthorized},
		{"invalid token", oops.Code("AUTH_TOKEN_INVALID").Errorf("nope"), http.StatusUnauthorized},
		{"weak password", oops.Code("AUTH_WEAK_PASSWORD").Errorf("weak"), http.StatusBadRequest},
		{"invalid email", oops.Code("AUTH_INVALID_EMAIL").Errorf("bad"), http.StatusBadRequest},
		{"account not found", oops.Code("AUTH_ACCOUNT_NOT_FOUND").Errorf("gone"), http.StatusNotFound},
		{"account locked", oops.Code("AUTH_ACCOUNT_LOCKED").Errorf("locked"), http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errutil.StatusHint(tt.err))
		})
	}
}

func TestStatusHint_WrappedCode(t *testing.T) {
	inner := oops.Code("AUTH_TOKEN_INVALID").Errorf("expired")
	assert.Equal(t, http.StatusUnauthorized, errutil.StatusHint(inner))
}
