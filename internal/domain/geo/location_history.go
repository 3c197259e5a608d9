package geo

import (
	"errors"
	"math"
	"strings"
	"time"
)

// LocationHistory is the domain entity corresponding to the `location_history` table.
type LocationHistory struct {
	ID             string
	Plate          string
	DriverID       string
	Latitude       float64
	Longitude      float64
	AccuracyMeters *float64
	Speed          *float64
	HeadingDegrees *float64
	RecordedAt     time.Time
	ReservationID  *string
}

var (
	ErrMissingPlate       = errors.New("plate is missing")
	ErrMissingDriverID    = errors.New("driver ID is missing")
	ErrInvalidCoordinates = errors.New("coordinates cannot be zero")
	ErrNegativeAccuracy   = errors.New("accuracy cannot be negative")
	ErrNegativeSpeed      = errors.New("speed cannot be negative")
	ErrInvalidHeading     = errors.New("heading must be between 0 and 360")
	ErrRecordedAtZeroTime = errors.New("recorded_at must be a valid timestamp")
)

// NewLocationHistory builds an archive record from a smoothed fix.
func NewLocationHistory(plate, driverID string, reservationID *string, fix SmoothedFix) (*LocationHistory, error) {
	accuracy := fix.Accuracy
	location := &LocationHistory{
		Plate:          strings.TrimSpace(plate),
		DriverID:       strings.TrimSpace(driverID),
		Latitude:       fix.Lat,
		Longitude:      fix.Lng,
		AccuracyMeters: &accuracy,
		Speed:          fix.Speed,
		HeadingDegrees: fix.Heading,
	}
	if fix.TimestampMs > 0 {
		location.RecordedAt = time.UnixMilli(fix.TimestampMs).UTC()
	} else {
		location.RecordedAt = time.Now().UTC()
	}

	if reservationID != nil {
		rID := strings.TrimSpace(*reservationID)
		if rID != "" {
			location.ReservationID = &rID
		}
	}

	if err := location.Validate(); err != nil {
		return nil, err
	}
	return location, nil
}

// Validate checks invariants of the LocationHistory entity.
func (location LocationHistory) Validate() error {
	if location.Plate == "" {
		return ErrMissingPlate
	}
	if location.DriverID == "" {
		return ErrMissingDriverID
	}

	if location.Latitude == 0 && location.Longitude == 0 {
		return ErrInvalidCoordinates
	}
	if location.Latitude < -90 || location.Latitude > 90 || math.IsNaN(location.Latitude) {
		return ErrInvalidLatitude
	}
	if location.Longitude < -180 || location.Longitude > 180 || math.IsNaN(location.Longitude) {
		return ErrInvalidLongitude
	}

	if location.AccuracyMeters != nil {
		if *location.AccuracyMeters < 0 || math.IsNaN(*location.AccuracyMeters) {
			return ErrNegativeAccuracy
		}
	}
	if location.Speed != nil {
		if *location.Speed < 0 || math.IsNaN(*location.Speed) {
			return ErrNegativeSpeed
		}
	}
	if location.HeadingDegrees != nil {
		// some devices report 360 instead of 0
		if *location.HeadingDegrees < 0 || *location.HeadingDegrees > 360 || math.IsNaN(*location.HeadingDegrees) {
			return ErrInvalidHeading
		}
	}

	if location.RecordedAt.IsZero() {
		return ErrRecordedAtZeroTime
	}
	return nil
}
