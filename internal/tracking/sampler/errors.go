package sampler

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrPositionUnavailable = errors.New("position unavailable")
	ErrTimeout             = errors.New("position request timed out")
	ErrRetriesExhausted    = errors.New("position source kept failing")
	ErrAlreadyStarted      = errors.New("sampler already started")
)

// Device error codes as reported by geolocation providers.
const (
	CodePermissionDenied    = 1
	CodePositionUnavailable = 2
	CodeTimeout             = 3
)

// ErrorForCode maps a device error code to its typed error.
func ErrorForCode(code int, message string) error {
	var base error
	switch code {
	case CodePermissionDenied:
		base = ErrPermissionDenied
	case CodeTimeout:
		base = ErrTimeout
	default:
		base = ErrPositionUnavailable
	}
	if message == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, message)
}

// retryable reports whether err counts toward the consecutive failure budget.
func retryable(err error) bool {
	return errors.Is(err, ErrPositionUnavailable) || errors.Is(err, ErrTimeout)
}
