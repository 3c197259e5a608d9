package sampler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"taxi-tracking/internal/domain/geo"
)

// replayLine is one NDJSON record: a fix, or {"code":N,"message":"..."}.
type replayLine struct {
	geo.RawFix
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ReplaySource plays back recorded device readings from NDJSON. With Paced set
// it sleeps for the gap between consecutive fix timestamps.
type ReplaySource struct {
	r     io.Reader
	Paced bool
	Now   func() time.Time
}

func NewReplaySource(r io.Reader, paced bool) *ReplaySource {
	return &ReplaySource{r: r, Paced: paced, Now: time.Now}
}

func (rs *ReplaySource) Watch(ctx context.Context, _ Options) (<-chan Reading, error) {
	if rs.r == nil {
		return nil, fmt.Errorf("replay source: %w", ErrPositionUnavailable)
	}
	out := make(chan Reading)
	go func() {
		defer close(out)

		scanner := bufio.NewScanner(rs.r)
		var prevTs int64
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var rec replayLine
			var reading Reading
			if err := json.Unmarshal(line, &rec); err != nil {
				reading.Err = fmt.Errorf("%w: bad replay line: %v", ErrPositionUnavailable, err)
			} else if rec.Code != 0 {
				reading.Err = ErrorForCode(rec.Code, rec.Message)
			} else {
				reading.Fix = rec.RawFix
				if reading.Fix.TimestampMs == 0 {
					reading.Fix.TimestampMs = rs.Now().UnixMilli()
				}
				if rs.Paced && prevTs != 0 && reading.Fix.TimestampMs > prevTs {
					wait := time.Duration(reading.Fix.TimestampMs-prevTs) * time.Millisecond
					select {
					case <-time.After(wait):
					case <-ctx.Done():
						return
					}
				}
				prevTs = reading.Fix.TimestampMs
			}

			select {
			case out <- reading:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
