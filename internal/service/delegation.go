package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	rmotel "github.com/respondmesh/respondmesh/internal/adapter/otel"
	"github.com/respondmesh/respondmesh/internal/agent"
	"github.com/respondmesh/respondmesh/internal/domain"
	"github.com/respondmesh/respondmesh/internal/domain/delegation"
	"github.com/respondmesh/respondmesh/internal/domain/envelope"
	"github.com/respondmesh/respondmesh/internal/mesh"
	"github.com/respondmesh/respondmesh/internal/port/events"
	"github.com/respondmesh/respondmesh/internal/port/notifier"
	"github.com/respondmesh/respondmesh/internal/port/store"
)

// Delegation outcome statuses surfaced to the calling agent.
const (
	ResultDelegated      = "delegated"
	ResultAlreadyHandled = "already_handled"
	ResultTimeout        = "timeout"
	ResultFailed         = "failed"
	ResultFailover       = "failover"
)

// Result is the structured outcome of one delegation attempt. A delegation
// that fully fails is still reported as a Result, never as an error, so the
// calling agent can proceed with its remaining independent work.
type Result struct {
	Status           string   `json:"status"`
	DelegatedTo      string   `json:"delegated_to"`
	HandledBy        string   `json:"handled_by,omitempty"`
	IncidentID       string   `json:"incident_id,omitempty"`
	Response         string   `json:"response,omitempty"`
	Error            string   `json:"error,omitempty"`
	DurationMS       int64    `json:"duration_ms"`
	ToolsCalled      []string `json:"tools_called,omitempty"`
	PromptTokens     int      `json:"prompt_tokens,omitempty"`
	CompletionTokens int      `json:"completion_tokens,omitempty"`
}

// DelegationService asks another agent to handle part of an incident. Every
// attempt is recorded in the ledger; delegations to the same target for the
// same incident within the dedup window are short-circuited without a
// network call, and connection-class failures are retried once against the
// target's statically configured backup.
type DelegationService struct {
	self        string
	store       store.DelegationStore // nil disables the ledger and dedup
	coordinator *mesh.Coordinator
	events      events.Publisher  // optional
	notify      notifier.Notifier // optional
	metrics     *rmotel.Metrics   // optional
	dedupWindow time.Duration
	timeout     time.Duration
	log         *slog.Logger
	now         func() time.Time // for testing
}

// NewDelegationService creates the delegation path for the named agent.
// st, pub, n, and m may each be nil.
func NewDelegationService(self string, st store.DelegationStore, coordinator *mesh.Coordinator,
	pub events.Publisher, n notifier.Notifier, m *rmotel.Metrics,
	dedupWindow, timeout time.Duration, log *slog.Logger) *DelegationService {
	return &DelegationService{
		self:        agent.Normalize(self),
		store:       st,
		coordinator: coordinator,
		events:      pub,
		notify:      n,
		metrics:     m,
		dedupWindow: dedupWindow,
		timeout:     timeout,
		log:         log,
		now:         time.Now,
	}
}

// Delegate sends a natural-language request to target and waits for its
// outcome.
func (s *DelegationService) Delegate(ctx context.Context, target, request string) *Result {
	target = agent.Normalize(target)
	cid := uuid.NewString()
	start := s.now()

	ctx, span := rmotel.StartDelegationSpan(ctx, cid, s.self, target)
	defer span.End()

	if !agent.RouteAllowed(s.self, target) {
		return &Result{
			Status:      ResultFailed,
			DelegatedTo: target,
			Error:       fmt.Sprintf("%s may not delegate to %s: %v", s.self, target, domain.ErrNoRoute),
		}
	}

	incidentID := delegation.ExtractIncidentID(request)

	// Incident-level dedup: if another agent already asked target to help
	// this incident recently, skip the round trip entirely.
	if incidentID != "" && s.store != nil {
		existing, err := s.store.FindRecent(ctx, incidentID, target, s.dedupWindow)
		if err == nil {
			s.log.Info("delegation skipped, already handled",
				"incident_id", incidentID, "target", target, "by", existing.SourceAgent)
			if s.metrics != nil {
				s.metrics.DelegationsDeduplicated.Add(ctx, 1)
			}
			return &Result{
				Status:      ResultAlreadyHandled,
				DelegatedTo: target,
				HandledBy:   existing.SourceAgent,
				IncidentID:  incidentID,
				Response: fmt.Sprintf("%s was already contacted for incident %s by %s; no duplicate action needed",
					target, incidentID, existing.SourceAgent),
			}
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.Warn("dedup lookup failed, proceeding", "incident_id", incidentID, "error", err)
		}
	}

	entryID := s.createEntry(ctx, cid, target, request, incidentID)
	if s.metrics != nil {
		s.metrics.DelegationsStarted.Add(ctx, 1)
	}
	s.publish(ctx, entryID, cid, incidentID, target, string(delegation.StatusPending), false, 0)

	s.log.Info("delegating", "target", target, "correlation_id", cid, "incident_id", incidentID)

	payload := envelope.DelegationPayload{
		Type:             envelope.TypeDelegationRequest,
		Request:          request,
		Source:           s.self,
		RequiresResponse: true,
	}

	raw, err := s.coordinator.Request(ctx, s.self, target, payload, cid, s.timeout)
	if err == nil {
		return s.complete(ctx, entryID, cid, incidentID, target, start, raw)
	}

	duration := s.now().Sub(start)

	// A handshake timeout means the request was delivered but the target ran
	// long or never answered; failover would duplicate its work.
	if errors.Is(err, domain.ErrHandshakeTimeout) {
		s.updateEntry(ctx, entryID, delegation.Update{
			DurationMS: int(duration.Milliseconds()),
			Status:     delegation.StatusTimeout,
		})
		s.publish(ctx, entryID, cid, incidentID, target, string(delegation.StatusTimeout), false, duration.Milliseconds())
		s.observeDuration(ctx, duration)
		s.log.Error("delegation timed out", "target", target, "correlation_id", cid)
		return &Result{
			Status:      ResultTimeout,
			DelegatedTo: target,
			IncidentID:  incidentID,
			Error:       fmt.Sprintf("%s did not respond within %s", target, s.timeout),
			DurationMS:  duration.Milliseconds(),
		}
	}

	// Connection-class failure: the request never reached the target. Try
	// the configured backup once, with the payload annotated so the backup
	// knows whose work it is picking up.
	if backup, ok := agent.FailoverTarget(target); ok {
		if res := s.attemptFailover(ctx, entryID, cid, incidentID, target, backup, request, start); res != nil {
			return res
		}
	}

	duration = s.now().Sub(start)
	s.updateEntry(ctx, entryID, delegation.Update{
		DurationMS:    int(duration.Milliseconds()),
		FinalResponse: err.Error(),
		Status:        delegation.StatusFailed,
	})
	s.publish(ctx, entryID, cid, incidentID, target, string(delegation.StatusFailed), false, duration.Milliseconds())
	s.observeDuration(ctx, duration)
	s.log.Error("delegation failed", "target", target, "correlation_id", cid, "error", err)
	return &Result{
		Status:      ResultFailed,
		DelegatedTo: target,
		IncidentID:  incidentID,
		Error:       err.Error(),
		DurationMS:  duration.Milliseconds(),
	}
}

// attemptFailover retries the delegation against backup. Returns nil when
// the backup also failed, leaving the caller to record the original failure.
func (s *DelegationService) attemptFailover(ctx context.Context, entryID int64,
	cid, incidentID, target, backup, request string, start time.Time) *Result {
	s.log.Warn("failover", "unreachable", target, "backup", backup, "correlation_id", cid)

	payload := envelope.DelegationPayload{
		Type:             envelope.TypeDelegationRequest,
		Request:          fmt.Sprintf("[FAILOVER from %s] %s", target, request),
		Source:           s.self,
		RequiresResponse: true,
		IsFailover:       true,
		OriginalTarget:   target,
	}

	raw, err := s.coordinator.Request(ctx, s.self, backup, payload, cid, s.timeout)
	if err != nil {
		s.log.Error("failover failed", "backup", backup, "correlation_id", cid, "error", err)
		return nil
	}

	resp := parseResponse(raw)
	duration := s.now().Sub(start)

	s.updateEntry(ctx, entryID, delegation.Update{
		DurationMS:    int(duration.Milliseconds()),
		FinalResponse: fmt.Sprintf("[FAILOVER to %s] %s", backup, resp.Message),
		Status:        delegation.StatusFailoverSuccess,
	})
	s.publish(ctx, entryID, cid, incidentID, target, string(delegation.StatusFailoverSuccess), true, duration.Milliseconds())
	if s.metrics != nil {
		s.metrics.DelegationsFailedOver.Add(ctx, 1)
	}
	s.observeDuration(ctx, duration)
	s.notifyFailover(ctx, target, backup)

	s.log.Info("failover handled", "backup", backup, "for", target, "correlation_id", cid)
	return &Result{
		Status:      ResultFailover,
		DelegatedTo: target,
		HandledBy:   backup,
		IncidentID:  incidentID,
		Response:    resp.Message,
		DurationMS:  duration.Milliseconds(),
	}
}

// complete records a successful delegation with the target's telemetry.
func (s *DelegationService) complete(ctx context.Context, entryID int64,
	cid, incidentID, target string, start time.Time, raw json.RawMessage) *Result {
	resp := parseResponse(raw)
	duration := s.now().Sub(start)

	s.updateEntry(ctx, entryID, delegation.Update{
		DurationMS:       int(duration.Milliseconds()),
		ToolsCalled:      resp.ToolsCalled,
		ToolResults:      resp.ToolResults,
		FinalResponse:    resp.Message,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		Status:           delegation.StatusCompleted,
	})
	s.publish(ctx, entryID, cid, incidentID, target, string(delegation.StatusCompleted), false, duration.Milliseconds())
	s.observeDuration(ctx, duration)

	s.log.Info("delegation complete", "target", target, "correlation_id", cid, "duration", duration)
	return &Result{
		Status:           ResultDelegated,
		DelegatedTo:      target,
		IncidentID:       incidentID,
		Response:         resp.Message,
		DurationMS:       duration.Milliseconds(),
		ToolsCalled:      resp.ToolsCalled,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
	}
}

// parseResponse decodes a handshake result payload, falling back to treating
// the raw bytes as the message text.
func parseResponse(raw json.RawMessage) Response {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil || (resp.Message == "" && resp.Status == "") {
		return Response{Message: string(raw)}
	}
	return resp
}

// createEntry inserts the PENDING ledger row. Ledger writes are best-effort:
// a store failure is logged and the delegation proceeds.
func (s *DelegationService) createEntry(ctx context.Context, cid, target, request, incidentID string) int64 {
	if s.store == nil {
		return 0
	}
	id, err := s.store.Create(ctx, &delegation.Entry{
		CorrelationID: cid,
		SourceAgent:   s.self,
		TargetAgent:   target,
		RequestText:   request,
		IncidentID:    incidentID,
		Status:        delegation.StatusPending,
	})
	if err != nil {
		s.log.Error("ledger create failed", "correlation_id", cid, "error", err)
		return 0
	}
	return id
}

func (s *DelegationService) updateEntry(ctx context.Context, id int64, upd delegation.Update) {
	if s.store == nil || id == 0 {
		return
	}
	if err := s.store.Update(ctx, id, upd); err != nil {
		s.log.Error("ledger update failed", "entry_id", id, "error", err)
	}
}

// publish emits a delegation lifecycle event. Feed failures never gate the
// delegation path.
func (s *DelegationService) publish(ctx context.Context, entryID int64,
	cid, incidentID, target, status string, isFailover bool, durationMS int64) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, events.DelegationEvent{
		DelegationID:  entryID,
		CorrelationID: cid,
		IncidentID:    incidentID,
		SourceAgent:   s.self,
		TargetAgent:   target,
		Status:        status,
		IsFailover:    isFailover,
		DurationMS:    durationMS,
	})
	if err != nil {
		s.log.Warn("delegation event publish failed", "correlation_id", cid, "error", err)
	}
}

// notifyFailover pushes an emergency notification when a backup agent picked
// up an unreachable target's work. Best-effort.
func (s *DelegationService) notifyFailover(ctx context.Context, target, backup string) {
	if s.notify == nil {
		return
	}
	err := s.notify.Send(ctx, notifier.Notification{
		Title:    "EMERGENCY FAILOVER ACTIVE",
		Message:  fmt.Sprintf("%s is unreachable; %s is handling its requests", target, backup),
		Priority: 2,
		Sound:    "siren",
		Source:   s.self,
	})
	if err != nil && !errors.Is(err, notifier.ErrNotConfigured) {
		s.log.Warn("failover notification failed", "error", err)
	}
}

func (s *DelegationService) observeDuration(ctx context.Context, d time.Duration) {
	if s.metrics != nil {
		s.metrics.DelegationDuration.Record(ctx, d.Seconds())
	}
}

// PurgeLoop periodically deletes ledger entries older than retention. Runs
// until ctx is cancelled.
func (s *DelegationService) PurgeLoop(ctx context.Context, interval, retention time.Duration) {
	if s.store == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.store.PurgeOlderThan(ctx, s.now().Add(-retention))
			if err != nil {
				s.log.Error("ledger purge failed", "error", err)
				continue
			}
			if n > 0 {
				s.log.Info("ledger purged", "entries", n)
			}
		}
	}
}
