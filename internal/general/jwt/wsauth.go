package jwt

import (
	"errors"
	"strings"

	"taxi-tracking/internal/domain/user"
)

var (
	ErrTokenRequired  = errors.New("token required")
	ErrDriverMismatch = errors.New("token subject does not match driverId")
	ErrPlateMismatch  = errors.New("token patente does not match")
)

// ValidateTaxiAuth checks the optional token carried in a taxi:auth frame
// against the identity the driver claims. A nil manager accepts any identity.
func ValidateTaxiAuth(mgr *Manager, token, driverID, plate string) (*Claims, error) {
	if mgr == nil {
		return nil, nil
	}

	raw := strings.TrimSpace(token)
	if len(raw) > 7 && strings.EqualFold(raw[:7], "Bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}
	if raw == "" {
		return nil, ErrTokenRequired
	}

	_, claims, err := mgr.ParseAndValidate(raw)
	if err != nil {
		return nil, err
	}
	if err := RoleAllowed(claims, user.RoleDriver); err != nil {
		return nil, err
	}
	if claims.Subject != driverID {
		return nil, ErrDriverMismatch
	}
	if !strings.EqualFold(claims.Plate, plate) {
		return nil, ErrPlateMismatch
	}
	return claims, nil
}
