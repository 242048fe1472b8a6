// Package common defines shared constants and sentinel errors used across
// dropwire components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrInternal     = errors.New("internal error")
	ErrInvalidInput = errors.New("invalid input")

	// Access-code errors.
	ErrInvalidCode = errors.New("invalid code")
	ErrCodeUsed    = errors.New("code already used")

	// Session lifecycle errors.
	ErrAlreadyDownloaded = errors.New("already downloaded")
	ErrSenderOffline     = errors.New("sender offline")

	// Throttling errors.
	ErrRateLimited   = errors.New("rate limited")
	ErrSessionCapped = errors.New("session cap reached")
	ErrBlocked       = errors.New("blocked")
)
