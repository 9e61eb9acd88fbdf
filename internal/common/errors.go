// Package common defines shared constants and sentinel errors used across
// the Larder sync server. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrInternal     = errors.New("internal error")
	ErrUnauthorized = errors.New("unauthorized")

	// Request validation errors.
	ErrValidation    = errors.New("validation error")
	ErrInvalidCursor = errors.New("invalid cursor")

	// Plan capacity errors. Use quota.LimitExceededError for the
	// structured variant carried over the wire.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Import errors.
	ErrBackupVersionMismatch = errors.New("backup version mismatch")
)
