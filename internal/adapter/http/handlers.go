// Package http provides the inbound agent-to-agent transport: the message
// endpoint peers POST to, plus the health and circuit status surfaces.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/respondmesh/respondmesh/internal/logger"
	"github.com/respondmesh/respondmesh/internal/resilience"
	"github.com/respondmesh/respondmesh/internal/service"
)

// InboxHandler processes one inbound message. Implemented by service.Inbox.
type InboxHandler interface {
	Handle(ctx context.Context, message, correlationID string) error
}

// DelegationRunner starts a delegation on behalf of this agent. Implemented
// by service.DelegationService.
type DelegationRunner interface {
	Delegate(ctx context.Context, target, request string) *service.Result
}

// CircuitReporter exposes per-destination breaker states. Implemented by
// mesh.Client.
type CircuitReporter interface {
	CircuitStates() map[string]resilience.State
}

// wireMessage is the body peers POST to the message endpoint.
type wireMessage struct {
	Message       string `json:"message"`
	Source        string `json:"source"`
	CorrelationID string `json:"correlation_id"`
}

// Handlers holds the inbound endpoints for one agent process.
type Handlers struct {
	Self        string
	Inbox       InboxHandler
	Delegations DelegationRunner
	Circuits    CircuitReporter
	Log         *slog.Logger

	// HandleTimeout bounds background message processing. Zero means 5 minutes.
	HandleTimeout time.Duration
}

// HandleMessage accepts an agent-to-agent message and processes it in the
// background. Delivery and outcome are decoupled: the sender gets 202 once the
// message is durably in hand, and any response travels back through the
// handshake path, not this HTTP exchange.
func (h *Handlers) HandleMessage(w http.ResponseWriter, r *http.Request) {
	msg, ok := readJSON[wireMessage](w, r, 1<<20)
	if !ok {
		return
	}
	if !requireField(w, msg.Message, "message") {
		return
	}

	cid := msg.CorrelationID
	if cid == "" {
		cid = logger.CorrelationID(r.Context())
	}

	timeout := h.HandleTimeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		ctx = logger.WithCorrelationID(ctx, cid)

		if err := h.Inbox.Handle(ctx, msg.Message, cid); err != nil {
			h.Log.Error("inbound message processing failed",
				"source", msg.Source, "correlation_id", cid, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":         "accepted",
		"correlation_id": cid,
	})
}

// delegateRequest is the operator-facing body for starting a delegation.
type delegateRequest struct {
	Target  string `json:"target"`
	Request string `json:"request"`
}

// HandleDelegate starts a delegation from this agent to a peer and blocks
// until its outcome. The result is always structured; a failed delegation is
// a 200 with a failure status, not an HTTP error.
func (h *Handlers) HandleDelegate(w http.ResponseWriter, r *http.Request) {
	if h.Delegations == nil {
		writeError(w, http.StatusServiceUnavailable, "delegation is not configured")
		return
	}

	req, ok := readJSON[delegateRequest](w, r, 1<<20)
	if !ok {
		return
	}
	if !requireField(w, req.Target, "target") || !requireField(w, req.Request, "request") {
		return
	}

	res := h.Delegations.Delegate(r.Context(), req.Target, req.Request)
	writeJSON(w, http.StatusOK, res)
}

// Health reports the agent's identity and liveness. The registry's HTTP
// health check and peer probes both hit this.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "active",
		"agent":  h.Self,
	})
}

// CircuitStatus returns the per-destination circuit breaker states.
func (h *Handlers) CircuitStatus(w http.ResponseWriter, _ *http.Request) {
	states := map[string]resilience.State{}
	if h.Circuits != nil {
		states = h.Circuits.CircuitStates()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":    h.Self,
		"circuits": states,
	})
}
