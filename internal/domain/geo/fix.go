package geo

import (
	"errors"
	"math"
	"time"
)

var (
	ErrInvalidLatitude  = errors.New("latitude must be between -90 and 90")
	ErrInvalidLongitude = errors.New("longitude must be between -180 and 180")
	ErrMissingPosition  = errors.New("latitude/longitude missing or NaN")
)

// RawFix is a single sample as reported by the device. It is never persisted.
type RawFix struct {
	Latitude         float64  `json:"latitude"`
	Longitude        float64  `json:"longitude"`
	AccuracyMeters   float64  `json:"accuracy"`
	Speed            *float64 `json:"speed,omitempty"`
	Heading          *float64 `json:"heading,omitempty"`
	Altitude         *float64 `json:"altitude,omitempty"`
	AltitudeAccuracy *float64 `json:"altitudeAccuracy,omitempty"`
	TimestampMs      int64    `json:"timestamp"`
}

// Validate checks that the fix carries a usable position.
func (fix RawFix) Validate() error {
	if !finite(fix.Latitude) || !finite(fix.Longitude) {
		return ErrMissingPosition
	}
	if fix.Latitude < -90 || fix.Latitude > 90 {
		return ErrInvalidLatitude
	}
	if fix.Longitude < -180 || fix.Longitude > 180 {
		return ErrInvalidLongitude
	}
	return nil
}

// Time returns the sample timestamp as a time.Time.
func (fix RawFix) Time() time.Time {
	return time.UnixMilli(fix.TimestampMs)
}

// SmoothedFix is the stable position derived from a window of raw fixes.
type SmoothedFix struct {
	Lat              float64       `json:"lat"`
	Lng              float64       `json:"lng"`
	Accuracy         float64       `json:"accuracy"`
	AccuracyLevel    AccuracyLevel `json:"accuracyLevel"`
	Speed            *float64      `json:"speed,omitempty"`
	Heading          *float64      `json:"heading,omitempty"`
	TimestampMs      int64         `json:"timestamp"`
	Altitude         *float64      `json:"altitude,omitempty"`
	AltitudeAccuracy *float64      `json:"altitudeAccuracy,omitempty"`
}

// Point returns the position of the fix.
func (fix SmoothedFix) Point() Point {
	return Point{Lat: fix.Lat, Lng: fix.Lng}
}

// Point is a bare coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate checks the point ranges.
func (point Point) Validate() error {
	if !finite(point.Lat) || !finite(point.Lng) {
		return ErrMissingPosition
	}
	if point.Lat < -90 || point.Lat > 90 {
		return ErrInvalidLatitude
	}
	if point.Lng < -180 || point.Lng > 180 {
		return ErrInvalidLongitude
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
