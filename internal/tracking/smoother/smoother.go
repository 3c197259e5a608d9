package smoother

import (
	"math"
	"sync"

	"taxi-tracking/internal/domain/geo"
)

// Capacity is the number of raw fixes kept in the window.
const Capacity = 5

// Smoother turns raw fixes into a stable position. Safe for concurrent use.
type Smoother struct {
	mu     sync.Mutex
	buf    [Capacity]geo.RawFix
	start  int
	n      int
	lat    kalman1D
	lng    kalman1D
	avgLat float64
	avgLng float64
}

func New() *Smoother {
	return &Smoother{}
}

// Ingest adds fix to the window and returns the smoothed position, or nil
// while fewer than two samples are buffered or when fix has no usable position.
func (s *Smoother) Ingest(fix geo.RawFix) *geo.SmoothedFix {
	if fix.Validate() != nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.push(fix)
	s.avgLat, s.avgLng = s.weightedAverage()

	lat := s.lat.update(fix.Latitude)
	lng := s.lng.update(fix.Longitude)

	if s.n < 2 {
		return nil
	}

	return &geo.SmoothedFix{
		Lat:              lat,
		Lng:              lng,
		Accuracy:         fix.AccuracyMeters,
		AccuracyLevel:    geo.LevelFor(fix.AccuracyMeters),
		Speed:            fix.Speed,
		Heading:          fix.Heading,
		TimestampMs:      fix.TimestampMs,
		Altitude:         fix.Altitude,
		AltitudeAccuracy: fix.AltitudeAccuracy,
	}
}

// Len returns the number of buffered fixes.
func (s *Smoother) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// WeightedAverage returns the exponentially weighted mean of the window as
// of the last ingest. ok is false when the window is empty.
func (s *Smoother) WeightedAverage() (geo.Point, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n == 0 {
		return geo.Point{}, false
	}
	return geo.Point{Lat: s.avgLat, Lng: s.avgLng}, true
}

// Reset clears the window and both filters.
func (s *Smoother) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = [Capacity]geo.RawFix{}
	s.start, s.n = 0, 0
	s.avgLat, s.avgLng = 0, 0
	s.lat.reset()
	s.lng.reset()
}

func (s *Smoother) push(fix geo.RawFix) {
	if s.n < Capacity {
		s.buf[(s.start+s.n)%Capacity] = fix
		s.n++
		return
	}
	s.buf[s.start] = fix
	s.start = (s.start + 1) % Capacity
}

// at returns the i-th buffered fix, oldest first.
func (s *Smoother) at(i int) geo.RawFix {
	return s.buf[(s.start+i)%Capacity]
}

// weightedAverage weights sample i of n by exp(-0.5*(n-1-i)), newest heaviest.
func (s *Smoother) weightedAverage() (float64, float64) {
	var sumW, lat, lng float64
	for i := 0; i < s.n; i++ {
		w := math.Exp(-0.5 * float64(s.n-1-i))
		f := s.at(i)
		lat += f.Latitude * w
		lng += f.Longitude * w
		sumW += w
	}
	return lat / sumW, lng / sumW
}
