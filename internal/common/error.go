package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Startup-fatal: the record key is missing or malformed.
	ErrorConfiguration = errors.New("configuration error")

	// Validation errors (plaintext shape, dates, bounds).
	ErrorInvalidInput = errors.New("invalid input")

	// Cipher errors. ErrorFormat means a stored triple is malformed,
	// ErrorAuthentication means the tag did not verify (tamper or wrong key).
	ErrorFormat         = errors.New("malformed ciphertext")
	ErrorAuthentication = errors.New("message authentication failed")

	// ErrorDataIntegrity is what callers above the cipher see for both
	// ErrorFormat and ErrorAuthentication. Never retried.
	ErrorDataIntegrity = errors.New("data integrity error")

	// Authorization errors. ErrorPermissionDenied never says which check failed.
	ErrorPermissionDenied = errors.New("permission denied")
	ErrorNotAssigned      = errors.New("counselor is not assigned to subject")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// ErrorRateLimited is returned when a caller exceeds its request budget.
	ErrorRateLimited = errors.New("rate limited")
)
