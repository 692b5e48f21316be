// Package store defines persistence ports for handshake coordination and
// the delegation ledger. Implementations live under internal/adapter.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/respondmesh/respondmesh/internal/domain/delegation"
	"github.com/respondmesh/respondmesh/internal/domain/handshake"
)

// HandshakeStore persists handshake records keyed by correlation ID so that
// a requester can observe completion even when the in-process future is lost.
type HandshakeStore interface {
	// Create inserts a PENDING record for the correlation ID.
	Create(ctx context.Context, correlationID string) error

	// Complete marks the record COMPLETED and attaches the result payload.
	// Completing an unknown correlation ID is not an error.
	Complete(ctx context.Context, correlationID string, result json.RawMessage) error

	// Get returns the record, or domain.ErrNotFound if it does not exist.
	Get(ctx context.Context, correlationID string) (*handshake.Record, error)

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, correlationID string) error
}

// DelegationStore persists the delegation ledger.
type DelegationStore interface {
	// Create inserts a new ledger entry and returns its assigned ID.
	Create(ctx context.Context, entry *delegation.Entry) (int64, error)

	// Update applies a terminal status and telemetry to an existing entry.
	Update(ctx context.Context, id int64, upd delegation.Update) error

	// Get returns the entry, or domain.ErrNotFound if it does not exist.
	Get(ctx context.Context, id int64) (*delegation.Entry, error)

	// FindRecent returns the most recent entry targeting targetAgent for the
	// given incident ID created within the window, or domain.ErrNotFound.
	FindRecent(ctx context.Context, incidentID, targetAgent string, window time.Duration) (*delegation.Entry, error)

	// PurgeOlderThan deletes entries older than the cutoff and reports how
	// many rows were removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
