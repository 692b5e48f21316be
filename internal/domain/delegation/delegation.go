// Package delegation defines the delegation ledger entry: the audit trail and
// deduplication key for every request one agent sends another on behalf of an
// incident.
package delegation

import "time"

// Status represents the terminal (or in-flight) state of a delegation attempt.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusCompleted       Status = "COMPLETED"
	StatusTimeout         Status = "TIMEOUT"
	StatusFailed          Status = "FAILED"
	StatusFailoverSuccess Status = "FAILOVER_SUCCESS"
)

// ToolResult records one operation the target agent invoked while handling a
// delegation, together with its result.
type ToolResult struct {
	Tool   string         `json:"tool"`
	Result map[string]any `json:"result"`
}

// Entry is one row of the delegation ledger. Created PENDING when the
// delegation starts and mutated exactly once to a terminal status.
type Entry struct {
	ID               int64        `json:"id"`
	CorrelationID    string       `json:"correlation_id"`
	SourceAgent      string       `json:"source_agent"`
	TargetAgent      string       `json:"target_agent"`
	RequestText      string       `json:"request_text"`
	IncidentID       string       `json:"incident_id,omitempty"`
	StartedAt        time.Time    `json:"started_at"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
	DurationMS       int          `json:"duration_ms"`
	ToolsCalled      []string     `json:"tools_called"`
	ToolResults      []ToolResult `json:"tool_results"`
	PromptTokens     int          `json:"prompt_tokens"`
	CompletionTokens int          `json:"completion_tokens"`
	TotalTokens      int          `json:"total_tokens"`
	FinalResponse    string       `json:"final_response,omitempty"`
	Status           Status       `json:"status"`
	CreatedAt        time.Time    `json:"created_at"`
}

// Update carries the terminal outcome and telemetry written back to a PENDING entry.
type Update struct {
	DurationMS       int
	ToolsCalled      []string
	ToolResults      []ToolResult
	FinalResponse    string
	PromptTokens     int
	CompletionTokens int
	Status           Status
}
