// Package events defines the port for publishing delegation lifecycle
// events to an external feed. The feed is observability-only: no consumer
// participates in coordination.
package events

import "context"

// DelegationEvent describes a transition in a delegation's lifecycle.
type DelegationEvent struct {
	DelegationID  int64  `json:"delegation_id"`
	CorrelationID string `json:"correlation_id"`
	IncidentID    string `json:"incident_id,omitempty"`
	SourceAgent   string `json:"source_agent"`
	TargetAgent   string `json:"target_agent"`
	Status        string `json:"status"`
	IsFailover    bool   `json:"is_failover,omitempty"`
	DurationMS    int64  `json:"duration_ms,omitempty"`
}

// Publisher emits delegation lifecycle events. Implementations must be
// safe for concurrent use; publish failures should be logged, not
// propagated into the delegation path.
type Publisher interface {
	Publish(ctx context.Context, event DelegationEvent) error
	Close() error
}
