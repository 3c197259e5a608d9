package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"taxi-tracking/internal/domain/user"
	"taxi-tracking/internal/domain/vehicle"
	"taxi-tracking/internal/general/jwt"
)

// GenerateToken mints a JWT for a driver, admin or customer. DRIVER tokens
// carry the plate they may report for.
//
// Typical use (dev-only):
//
//	token, _, err := cli.GenerateToken(secret, 12*time.Hour,
//	    "drv-001", "DRIVER", "AB1234")
//
// Keep this package dev/internal only. Do not call it from production code paths.
func GenerateToken(secret string, ttl time.Duration, subject, roleStr, plate string) (string, jwt.Claims, error) {
	// parse and validate the role
	role, err := user.ParseRole(roleStr)
	if err != nil {
		return "", jwt.Claims{}, fmt.Errorf("invalid role %q: %w", roleStr, err)
	}

	if strings.TrimSpace(secret) == "" {
		return "", jwt.Claims{}, errors.New("secret is required")
	}
	mgr := jwt.NewManager(secret, ttl)

	var (
		token  string
		claims *jwt.Claims
	)
	if role.IsDriver() {
		token, claims, err = mgr.IssueDriverToken(subject, vehicle.NormalizePlate(plate))
	} else {
		token, claims, err = mgr.IssueUserToken(subject, role)
	}
	if err != nil {
		return "", jwt.Claims{}, fmt.Errorf("issue token: %w", err)
	}

	return token, *claims, nil
}
