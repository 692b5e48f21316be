// Package decider defines the port through which an agent produces a
// decision for an inbound delegation request.
package decider

import (
	"context"

	"github.com/respondmesh/respondmesh/internal/domain/delegation"
)

// TokenUsage reports the token accounting for a single decision.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
}

// Outcome is the result of running a decision for a delegation request.
type Outcome struct {
	ToolsCalled []string                `json:"tools_called"`
	ToolResults []delegation.ToolResult `json:"tool_results"`
	FinalText   string                  `json:"final_text"`
	Tokens      TokenUsage              `json:"tokens"`
}

// Decider turns a delegation request into an outcome. Implementations are
// expected to honor ctx cancellation.
type Decider interface {
	Decide(ctx context.Context, request string) (*Outcome, error)
}
