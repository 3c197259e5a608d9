package vehicle

import (
	"errors"
	"strings"
)

// Status is the operational status of a vehicle as stored in the `vehiculos.estado` column.
type Status string

const (
	StatusAvailable Status = "DISPONIBLE"
	StatusInService Status = "EN_SERVICIO"
	StatusOffline   Status = "OFFLINE"
)

var ErrInvalidStatus = errors.New("invalid vehicle status")

// ParseStatus normalizes (uppercases+trims) and validates a vehicle status string.
func ParseStatus(in string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(in)))
	if status.Valid() {
		return status, nil
	}
	return "", ErrInvalidStatus
}

// Valid reports whether the status is one of the allowed constants.
func (status Status) Valid() bool {
	switch status {
	case StatusAvailable, StatusInService, StatusOffline:
		return true
	default:
		return false
	}
}

// String returns the string representation of the Status.
func (status Status) String() string {
	return string(status)
}
