package sampler

import (
	"time"

	"taxi-tracking/internal/domain/geo"
)

// Verdict is the outcome of running a fix through the sampler gates.
type Verdict string

const (
	VerdictAccepted   Verdict = "accepted"
	VerdictInvalid    Verdict = "invalid"
	VerdictInaccurate Verdict = "inaccurate"
	VerdictThrottled  Verdict = "throttled"
	VerdictTooClose   Verdict = "too_close"
)

// gate holds the last reported fix and decides whether the next one passes.
// Elapsed time is measured between fix timestamps.
type gate struct {
	minInterval time.Duration
	minDistance float64
	maxAccuracy float64

	last *geo.RawFix
}

func (g *gate) admit(fix geo.RawFix) Verdict {
	if err := fix.Validate(); err != nil {
		return VerdictInvalid
	}
	// NaN accuracy is unknown accuracy
	if !(fix.AccuracyMeters <= g.maxAccuracy) {
		return VerdictInaccurate
	}

	if g.last != nil {
		elapsed := time.Duration(fix.TimestampMs-g.last.TimestampMs) * time.Millisecond
		// a device clock that stepped back restarts the window at this fix
		if elapsed >= 0 && elapsed < g.minInterval {
			return VerdictThrottled
		}
		moved := geo.DistanceMeters(
			geo.Point{Lat: g.last.Latitude, Lng: g.last.Longitude},
			geo.Point{Lat: fix.Latitude, Lng: fix.Longitude},
		)
		if moved < g.minDistance {
			return VerdictTooClose
		}
	}

	accepted := fix
	g.last = &accepted
	return VerdictAccepted
}

func (g *gate) reset() {
	g.last = nil
}
