package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	rmotel "github.com/respondmesh/respondmesh/internal/adapter/otel"
	"github.com/respondmesh/respondmesh/internal/agent"
	"github.com/respondmesh/respondmesh/internal/domain"
	"github.com/respondmesh/respondmesh/internal/domain/envelope"
	"github.com/respondmesh/respondmesh/internal/port/store"
	"github.com/respondmesh/respondmesh/internal/resilience"
)

// Coordinator layers synchronous request/response semantics on top of
// one-way messaging. A request registers two independent observers of the
// "handshake completed" event: an in-process future (fast path when
// requester and resolver share a process) and a durable PENDING record
// polled until COMPLETED (required when they do not). The durable path alone
// is sufficient for correctness; the future only saves poll latency.
type Coordinator struct {
	client       *Client
	breakers     *resilience.Group
	store        store.HandshakeStore // nil degrades to in-process-only
	pollInterval time.Duration
	log          *slog.Logger

	mu      sync.Mutex
	pending map[string]chan json.RawMessage
}

// NewCoordinator creates a handshake coordinator. st may be nil, in which
// case cross-process resolution is unavailable.
func NewCoordinator(client *Client, breakers *resilience.Group, st store.HandshakeStore,
	pollInterval time.Duration, log *slog.Logger) *Coordinator {
	return &Coordinator{
		client:       client,
		breakers:     breakers,
		store:        st,
		pollInterval: pollInterval,
		log:          log,
		pending:      make(map[string]chan json.RawMessage),
	}
}

// register creates the in-process future for a correlation ID.
func (co *Coordinator) register(correlationID string) chan json.RawMessage {
	ch := make(chan json.RawMessage, 1)
	co.mu.Lock()
	co.pending[correlationID] = ch
	co.mu.Unlock()
	return ch
}

func (co *Coordinator) unregister(correlationID string) {
	co.mu.Lock()
	delete(co.pending, correlationID)
	co.mu.Unlock()
}

// Request sends a HANDSHAKE_REQUEST to target and blocks until a matching
// result arrives or timeout elapses. An empty correlationID generates one.
// Returns domain.ErrCircuitOpen without a network attempt when the target's
// circuit is open, and domain.ErrHandshakeTimeout when the request was sent
// but never answered.
func (co *Coordinator) Request(ctx context.Context, source, target string, payload any,
	correlationID string, timeout time.Duration) (json.RawMessage, error) {
	target = agent.Normalize(target)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	ctx, span := rmotel.StartHandshakeSpan(ctx, correlationID, target)
	defer span.End()

	// Read-only gate: probe admission stays with the client's Allow so an
	// expired circuit's single half-open probe is never consumed here.
	if co.breakers.Open(target) {
		return nil, fmt.Errorf("handshake with %s: %w", target, domain.ErrCircuitOpen)
	}

	// Best-effort durable record. Absence of a store (or a failed insert)
	// degrades to in-process-only resolution.
	durable := false
	if co.store != nil {
		if err := co.store.Create(ctx, correlationID); err != nil {
			co.log.Warn("handshake record create failed, in-process only",
				"correlation_id", correlationID, "error", err)
		} else {
			durable = true
		}
	}

	future := co.register(correlationID)
	defer co.unregister(correlationID)

	env, err := envelope.NewHandshakeRequest(source, correlationID, payload)
	if err != nil {
		co.cleanupRecord(durable, correlationID)
		return nil, fmt.Errorf("handshake with %s: %w", target, err)
	}
	text, err := env.Encode()
	if err != nil {
		co.cleanupRecord(durable, correlationID)
		return nil, fmt.Errorf("handshake with %s: %w", target, err)
	}

	if err := co.client.Send(ctx, source, target, string(text), correlationID); err != nil {
		co.cleanupRecord(durable, correlationID)
		return nil, fmt.Errorf("handshake with %s: %w", target, err)
	}

	co.log.Info("handshake initiated",
		"target", target, "correlation_id", correlationID, "durable", durable)

	result, err := co.await(ctx, future, durable, correlationID, timeout)
	if err != nil {
		co.breakers.RecordFailure(target)
		co.cleanupRecord(durable, correlationID)
		return nil, fmt.Errorf("handshake with %s: %w", target, err)
	}

	co.breakers.RecordSuccess(target)
	co.cleanupRecord(durable, correlationID)
	return result, nil
}

// await waits for resolution via the future or, when durable, by polling the
// record store.
func (co *Coordinator) await(ctx context.Context, future chan json.RawMessage,
	durable bool, correlationID string, timeout time.Duration) (json.RawMessage, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	if !durable {
		select {
		case result := <-future:
			return result, nil
		case <-deadline.C:
			return nil, domain.ErrHandshakeTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ticker := time.NewTicker(co.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case result := <-future:
			return result, nil
		case <-deadline.C:
			return nil, domain.ErrHandshakeTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			rec, err := co.store.Get(ctx, correlationID)
			if err != nil {
				continue // poll errors are transient; the deadline bounds us
			}
			if rec.Completed() {
				return rec.Result, nil
			}
		}
	}
}

// cleanupRecord deletes the durable record once an outcome (either way) has
// been observed.
func (co *Coordinator) cleanupRecord(durable bool, correlationID string) {
	if !durable {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := co.store.Delete(ctx, correlationID); err != nil {
		co.log.Warn("handshake record cleanup failed",
			"correlation_id", correlationID, "error", err)
	}
}

// Confirm sends a HANDSHAKE_RESULT envelope back to the requesting agent.
// The durable record written by Resolve is sufficient for correctness on its
// own; the wire confirmation completes the requester's in-process future
// without waiting out a poll interval when requester and responder run as
// separate processes. Callers treat failures as best-effort.
func (co *Coordinator) Confirm(ctx context.Context, source, requester, correlationID string,
	result json.RawMessage) error {
	env, err := envelope.NewHandshakeResult(source, correlationID, result)
	if err != nil {
		return fmt.Errorf("confirm handshake with %s: %w", requester, err)
	}
	text, err := env.Encode()
	if err != nil {
		return fmt.Errorf("confirm handshake with %s: %w", requester, err)
	}
	if err := co.client.Send(ctx, source, requester, string(text), correlationID); err != nil {
		return fmt.Errorf("confirm handshake with %s: %w", requester, err)
	}
	return nil
}

// Resolve completes a handshake: the receiving side calls it after
// processing a HANDSHAKE_REQUEST. The in-process future is completed when
// one exists here, and the durable record is unconditionally marked
// COMPLETED for cross-process waiters. Last writer wins on the record.
func (co *Coordinator) Resolve(ctx context.Context, correlationID string, result json.RawMessage) {
	co.mu.Lock()
	ch, ok := co.pending[correlationID]
	if ok {
		delete(co.pending, correlationID)
	}
	co.mu.Unlock()

	if ok {
		select {
		case ch <- result:
			co.log.Info("handshake resolved in-process", "correlation_id", correlationID)
		default:
		}
	}

	if co.store != nil {
		if err := co.store.Complete(ctx, correlationID, result); err != nil {
			co.log.Error("handshake record completion failed",
				"correlation_id", correlationID, "error", err)
		}
	}
}
