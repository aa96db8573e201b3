package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for the cross-component error taxonomy (spec §7). Each
// component wraps these with %w and contextual detail (file path, id);
// callers compare with errors.Is.
var (
	ErrKeyNotFound       = errors.New("decryption key not found")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrNotFound          = errors.New("not found")
	ErrPayloadMissing    = errors.New("payload missing for entry metadata")
	ErrIncompatibleStore = errors.New("incompatible store: db_id mismatch")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrTransient         = errors.New("transient error")
	ErrFatal             = errors.New("fatal: data corruption detected")

	// AuthFailed subtypes: each wraps ErrAuthFailed, so errors.Is(err,
	// ErrAuthFailed) and KindOf treat them as authentication failures.
	ErrChallengeNotFound = fmt.Errorf("%w: challenge not found", ErrAuthFailed)
	ErrChallengeExpired  = fmt.Errorf("%w: challenge expired", ErrAuthFailed)
	ErrChallengeUsed     = fmt.Errorf("%w: challenge already used", ErrAuthFailed)
	ErrUserNotFound      = fmt.Errorf("%w: user not found", ErrAuthFailed)
	ErrUserRevoked       = fmt.Errorf("%w: user revoked", ErrAuthFailed)
	ErrInvalidToken      = fmt.Errorf("%w: invalid token", ErrAuthFailed)
)

// Kind is a coarse classification of an error for logging/metrics, derived
// via KindOf.
type Kind string

const (
	KindKeyNotFound       Kind = "key_not_found"
	KindInvalidSignature  Kind = "invalid_signature"
	KindNotFound          Kind = "not_found"
	KindPayloadMissing    Kind = "payload_missing"
	KindIncompatibleStore Kind = "incompatible_store"
	KindAuthFailed        Kind = "auth_failed"
	KindTransient         Kind = "transient"
	KindFatal             Kind = "fatal"
	KindUnknown           Kind = "unknown"
)

// KindOf classifies err against the sentinel taxonomy using errors.Is, so
// wrapped errors are classified the same as the sentinels themselves.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrKeyNotFound):
		return KindKeyNotFound
	case errors.Is(err, ErrInvalidSignature):
		return KindInvalidSignature
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrPayloadMissing):
		return KindPayloadMissing
	case errors.Is(err, ErrIncompatibleStore):
		return KindIncompatibleStore
	case errors.Is(err, ErrAuthFailed):
		return KindAuthFailed
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrFatal):
		return KindFatal
	default:
		return KindUnknown
	}
}
