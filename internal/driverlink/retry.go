package driverlink

import (
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds reconnection: attempt n waits InitialDelay*2^(n-1),
// capped at MaxDelay, scaled by a random factor in [1-Jitter, 1+Jitter] and
// never above MaxDelay.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Jitter       float64

	rand func() float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		Jitter:       0.2,
	}
}

// Delay returns the wait before the given 1-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.InitialDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}

	if p.Jitter > 0 {
		r := rand.Float64
		if p.rand != nil {
			r = p.rand
		}
		factor := 1 + p.Jitter*(2*r()-1)
		d = time.Duration(float64(d) * factor)
		if d > p.MaxDelay {
			d = p.MaxDelay
		}
	}
	return d
}
