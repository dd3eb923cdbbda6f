package domain

import "errors"

var (
	UnexpectedDatabaseError = errors.New("unexpected-database-error")
	ErrDuplicateUsername    = errors.New("duplicate-username")
	ErrUserNotFound         = errors.New("user-not-found")
)

// Records read back from the shared store are untrusted until validated.
var ErrMalformedRecord = errors.New("malformed-record")

var (
	UnexpectedPasswordHashingError        = errors.New("unexpected-password-hashing-error")
	UnexpectedPasswordHashComparisonError = errors.New("unexpected-password-hash-comparison-error")
)

var (
	UnexpectedTokenGenerationError   = errors.New("unexpected-token-generation-error")
	UnexpectedTokenVerificationError = errors.New("unexpected-token-verification-error")
	ErrInvalidSigningAlg             = errors.New("invalid-signing-alg")
	ErrExpiredToken                  = errors.New("expired-token")
	ErrInvalidTokenSignature         = errors.New("invalid-token-signature")
	ErrCorruptedToken                = errors.New("corrupted-token")
)
