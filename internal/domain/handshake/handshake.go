// Package handshake defines the durable record that links a request to its
// eventual cross-process response.
package handshake

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle of a handshake record.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
)

// Record is the durable handshake row keyed by correlation ID. Exactly one
// writer transitions it to COMPLETED; readers poll until then or until their
// local timeout, and whichever side observes the outcome deletes the record.
type Record struct {
	CorrelationID string          `json:"correlation_id"`
	Status        Status          `json:"status"`
	Result        json.RawMessage `json:"result,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Completed reports whether the record carries a result.
func (r *Record) Completed() bool {
	return r.Status == StatusCompleted
}
