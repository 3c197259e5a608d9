package smoother

const (
	processNoise      = 0.1 // Q
	measurementNoise  = 0.1 // R
	initialCovariance = 1.0
)

// kalman1D is a scalar Kalman filter with a constant-position model.
type kalman1D struct {
	x      float64
	p      float64
	seeded bool
}

func (k *kalman1D) update(measurement float64) float64 {
	if !k.seeded {
		k.x = measurement
		k.p = initialCovariance
		k.seeded = true
		return k.x
	}

	predicted := k.p + processNoise
	gain := predicted / (predicted + measurementNoise)
	k.x += gain * (measurement - k.x)
	k.p = (1 - gain) * predicted
	return k.x
}

func (k *kalman1D) reset() {
	*k = kalman1D{}
}
