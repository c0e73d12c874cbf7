// Package common defines shared constants and sentinel errors used across
// client and server layers of couplesync. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Pairing protocol errors. They are business-rule rejections and are
	// surfaced to the user as is, never retried.
	ErrExpired         = errors.New("pairing code expired")
	ErrAlreadyPaired   = errors.New("already paired")
	ErrAlreadyRedeemed = errors.New("pairing code already redeemed")
	ErrSelfPairing     = errors.New("cannot pair with yourself")
	ErrNotAuthorized   = errors.New("not authorized")
	ErrNotPaired       = errors.New("not paired")

	// Sync errors.
	ErrVersionConflict = errors.New("version conflict")
	ErrStorageCorrupt  = errors.New("local storage corrupt")

	// ErrUnavailable is produced on the client for transport failures. A write
	// that failed with it must never be treated as applied or as deleted.
	ErrUnavailable = errors.New("backend unavailable")

	// Service-level errors (generic/internal flow control).
	ErrInternal    = errors.New("internal error")
	ErrValidation  = errors.New("validation error")
	ErrRateLimited = errors.New("too many attempts")

	// Auth errors.
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// ErrNoOfflineData means the device never completed an online login for
	// the user, so there is nothing to verify an offline login against.
	ErrNoOfflineData = errors.New("no offline login data")
)

// wireErrors lists the errors whose text crosses the gRPC boundary as a status
// message and is mapped back to the same sentinel on the client.
var wireErrors = []error{
	ErrNotFound,
	ErrAlreadyExists,
	ErrExpired,
	ErrAlreadyPaired,
	ErrAlreadyRedeemed,
	ErrSelfPairing,
	ErrNotAuthorized,
	ErrNotPaired,
	ErrVersionConflict,
	ErrValidation,
	ErrRateLimited,
	ErrUnauthorized,
	ErrInvalidToken,
	ErrTokenExpired,
	ErrRefreshTokenExpired,
}

// ErrorFromMessage returns the sentinel whose text equals msg, or nil.
func ErrorFromMessage(msg string) error {
	for _, e := range wireErrors {
		if e.Error() == msg {
			return e
		}
	}
	return nil
}
