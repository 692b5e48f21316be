package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/respondmesh/respondmesh/internal/domain/handshake"
)

// HandshakeStore implements store.HandshakeStore against the shared database.
// Every agent process writes to the same table, which is what lets a
// responder in one process complete a handshake a requester in another
// process is polling for.
type HandshakeStore struct {
	pool *pgxpool.Pool
}

// NewHandshakeStore creates a HandshakeStore backed by the given pool.
func NewHandshakeStore(pool *pgxpool.Pool) *HandshakeStore {
	return &HandshakeStore{pool: pool}
}

// Create inserts a PENDING handshake record. Re-creating an existing
// correlation ID resets it, which covers a requester retrying after a crash.
func (s *HandshakeStore) Create(ctx context.Context, correlationID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO handshakes (correlation_id, status)
		 VALUES ($1, 'PENDING')
		 ON CONFLICT (correlation_id) DO UPDATE SET status = 'PENDING', result = NULL, created_at = now()`,
		correlationID)
	if err != nil {
		return fmt.Errorf("create handshake %s: %w", correlationID, err)
	}
	return nil
}

// Complete marks the record COMPLETED with the responder's result. A missing
// record is not an error: the requester may already have timed out and
// deleted it, and the late result is simply dropped.
func (s *HandshakeStore) Complete(ctx context.Context, correlationID string, result json.RawMessage) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE handshakes SET status = 'COMPLETED', result = $2 WHERE correlation_id = $1`,
		correlationID, result)
	if err != nil {
		return fmt.Errorf("complete handshake %s: %w", correlationID, err)
	}
	return nil
}

// Get returns the record for a correlation ID.
func (s *HandshakeStore) Get(ctx context.Context, correlationID string) (*handshake.Record, error) {
	var r handshake.Record
	err := s.pool.QueryRow(ctx,
		`SELECT correlation_id, status, result, created_at
		 FROM handshakes WHERE correlation_id = $1`, correlationID,
	).Scan(&r.CorrelationID, &r.Status, &r.Result, &r.CreatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get handshake %s", correlationID)
	}
	return &r, nil
}

// Delete removes the record. Missing records are ignored; both sides of a
// handshake may race to clean up.
func (s *HandshakeStore) Delete(ctx context.Context, correlationID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM handshakes WHERE correlation_id = $1`, correlationID)
	if err != nil {
		return fmt.Errorf("delete handshake %s: %w", correlationID, err)
	}
	return nil
}
