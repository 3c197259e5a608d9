package jwt

import (
	"time"

	"taxi-tracking/internal/domain/user"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Claims defines the token payload shared by drivers, admins and trip operators.
type Claims struct {
	Role  user.Role `json:"role"`
	Plate string    `json:"patente,omitempty"` // only on DRIVER tokens
	jwtlib.RegisteredClaims
}

var _ jwtlib.Claims = (*Claims)(nil)

// NewUserClaims constructs claims for a non-driver principal.
func NewUserClaims(userID string, role user.Role, ttl time.Duration) *Claims {
	now := time.Now().UTC()
	return &Claims{
		Role: role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwtlib.NewNumericDate(now),
		},
	}
}

// NewDriverClaims binds a driver id to the plate they are allowed to report for.
func NewDriverClaims(driverID, plate string, ttl time.Duration) *Claims {
	c := NewUserClaims(driverID, user.RoleDriver, ttl)
	c.Plate = plate
	return c
}
