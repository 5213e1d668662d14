// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package title

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL is how long a signed title token stays valid.
const TokenTTL = 120 * time.Second

// AuthTokenError means the title key could not be turned into a token.
type AuthTokenError struct {
	Reason string
	Err    error
}

func (e *AuthTokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("title auth token: %s: %v", e.Reason, e.Err)
	}
	return "title auth token: " + e.Reason
}

func (e *AuthTokenError) Unwrap() error {
	return e.Err
}

// SignToken builds the provider's HS256 bearer token from a key of the form
// "id.secret". Timestamps in the payload are unix milliseconds.
func SignToken(apiKey string, now time.Time) (string, error) {
	parts := strings.Split(apiKey, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", &AuthTokenError{Reason: "key must have the form id.secret"}
	}
	id, secret := parts[0], parts[1]

	ms := now.UnixMilli()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"api_key":   id,
		"exp":       ms + TokenTTL.Milliseconds(),
		"timestamp": ms,
	})
	token.Header["sign_type"] = "SIGN"

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", &AuthTokenError{Reason: "sign", Err: err}
	}
	return signed, nil
}
