package sampler

import (
	"context"
	"time"

	"taxi-tracking/internal/domain/geo"
)

// Options are handed to the device when watching starts.
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

// Reading is one device callback: either a fix or an error.
type Reading struct {
	Fix geo.RawFix
	Err error
}

// DeviceSource is the positioning hardware or anything standing in for it.
// The returned channel is closed when the source ends or ctx is done.
type DeviceSource interface {
	Watch(ctx context.Context, opts Options) (<-chan Reading, error)
}
