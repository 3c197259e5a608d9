package vehicle

import (
	"errors"
	"strings"
	"time"

	"taxi-tracking/internal/domain/geo"
)

// Vehicle is a taxi identified by its plate (patente) and currently bound driver.
type Vehicle struct {
	Plate      string
	DriverID   string
	CurrentFix *geo.SmoothedFix
	Status     Status
	UpdatedAt  time.Time
}

var (
	ErrPlateRequired       = errors.New("plate is required")
	ErrDriverIDRequired    = errors.New("driver id is required")
	ErrInvalidStatusSwitch = errors.New("invalid vehicle status transition")
)

// New creates an offline vehicle with no known position.
func New(plate, driverID string) (*Vehicle, error) {
	if plate = NormalizePlate(plate); plate == "" {
		return nil, ErrPlateRequired
	}
	if driverID = strings.TrimSpace(driverID); driverID == "" {
		return nil, ErrDriverIDRequired
	}
	return &Vehicle{
		Plate:     plate,
		DriverID:  driverID,
		Status:    StatusOffline,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// NormalizePlate uppercases and trims a plate so that lookups are case-insensitive.
func NormalizePlate(plate string) string {
	return strings.ToUpper(strings.TrimSpace(plate))
}

// UpdateFix records the latest smoothed fix. An offline vehicle comes back as available.
func (vehicle *Vehicle) UpdateFix(fix geo.SmoothedFix) {
	vehicle.CurrentFix = &fix
	if vehicle.Status == StatusOffline {
		vehicle.Status = StatusAvailable
	}
	vehicle.touch()
}

// HasFix reports whether the vehicle has a known position.
func (vehicle *Vehicle) HasFix() bool {
	return vehicle.CurrentFix != nil
}

// MarkInService transitions DISPONIBLE -> EN_SERVICIO (passenger on board).
func (vehicle *Vehicle) MarkInService() error {
	if vehicle.Status != StatusAvailable {
		return ErrInvalidStatusSwitch
	}
	vehicle.Status = StatusInService
	vehicle.touch()
	return nil
}

// MarkAvailable transitions EN_SERVICIO/OFFLINE -> DISPONIBLE.
func (vehicle *Vehicle) MarkAvailable() error {
	switch vehicle.Status {
	case StatusInService, StatusOffline:
		vehicle.Status = StatusAvailable
		vehicle.touch()
		return nil
	default:
		return ErrInvalidStatusSwitch
	}
}

// GoOffline marks the vehicle offline and forgets its position.
func (vehicle *Vehicle) GoOffline() {
	vehicle.Status = StatusOffline
	vehicle.CurrentFix = nil
	vehicle.touch()
}

func (vehicle *Vehicle) touch() {
	vehicle.UpdatedAt = time.Now().UTC()
}
