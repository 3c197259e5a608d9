package contracts

import "time"

// Envelope adds cross-cutting headers all bus messages may carry.
type Envelope struct {
	CorrelationID string    `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer,omitempty"` // e.g. "broker-7f3c"
	SentAt        time.Time `json:"sent_at,omitempty"`
}
