package geo

// AccuracyLevel buckets a horizontal accuracy radius for display.
type AccuracyLevel string

const (
	AccuracyHigh    AccuracyLevel = "high"
	AccuracyMedium  AccuracyLevel = "medium"
	AccuracyLow     AccuracyLevel = "low"
	AccuracyVeryLow AccuracyLevel = "very_low"
)

// LevelFor maps an accuracy radius in meters to its level.
func LevelFor(accuracyMeters float64) AccuracyLevel {
	switch {
	case accuracyMeters <= 10:
		return AccuracyHigh
	case accuracyMeters <= 20:
		return AccuracyMedium
	case accuracyMeters <= 50:
		return AccuracyLow
	default:
		return AccuracyVeryLow
	}
}

// String returns the string representation of the AccuracyLevel.
func (level AccuracyLevel) String() string {
	return string(level)
}
