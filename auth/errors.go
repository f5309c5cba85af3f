package auth

import "errors"

var (
	// ErrInvalidToken is returned when a token fails signature, audience or
	// type checks.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken is returned when a token's expiry has passed.
	ErrExpiredToken = errors.New("token expired")

	// ErrInvalidState is returned when an OAuth state blob fails validation.
	ErrInvalidState = errors.New("invalid oauth state")

	// ErrStateExpired is returned when an OAuth state blob is older than its TTL.
	ErrStateExpired = errors.New("oauth state expired")

	// ErrInvalidPayload is returned when token claims are structurally wrong.
	ErrInvalidPayload = errors.New("invalid token payload")
)
