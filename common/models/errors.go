package models

import (
	"errors"
)

var (
	ErrValidation            = errors.New("validation error")
	ErrDuplicateRegistration = errors.New("duplicate registration")
	ErrNotFound              = errors.New("not found")
	ErrUnauthorized          = errors.New("unauthorized")

	// Outcome unknown; rely on the next resync
	ErrTransport = errors.New("transport error")
)

// Error kinds used on the wire
const (
	KindValidation            = "validation_error"
	KindDuplicateRegistration = "duplicate_registration"
	KindNotFound              = "not_found"
	KindUnauthorized          = "unauthorized"
	KindTransport             = "transport_error"
	KindInternal              = "internal_error"
)

// ErrorKind classifies err into a wire kind
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrDuplicateRegistration):
		return KindDuplicateRegistration
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrTransport):
		return KindTransport
	default:
		return KindInternal
	}
}

// ErrorForKind returns the sentinel for a wire kind, or nil if unknown
func ErrorForKind(kind string) error {
	switch kind {
	case KindValidation:
		return ErrValidation
	case KindDuplicateRegistration:
		return ErrDuplicateRegistration
	case KindNotFound:
		return ErrNotFound
	case KindUnauthorized:
		return ErrUnauthorized
	case KindTransport:
		return ErrTransport
	}
	return nil
}
