package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/respondmesh/respondmesh/internal/domain/delegation"
	"github.com/respondmesh/respondmesh/internal/port/decider"
)

// keywords selects which of an agent's operations a request activates. Keys
// are operation names, values are substrings matched case-insensitively
// against the request text.
var keywords = map[string][]string{
	"dispatch_ambulances":        {"ambulance", "casualt", "injur", "medical"},
	"triage_casualties":          {"triage", "casualt"},
	"dispatch_fire_engines":      {"fire", "blaze", "smoke"},
	"assess_hazmat_risk":         {"hazmat", "chemical", "gas leak"},
	"isolate_gas_lines":          {"gas"},
	"shut_down_power_grid":       {"power", "electric", "grid"},
	"establish_perimeter":        {"perimeter", "cordon", "crowd", "security"},
	"emergency_public_broadcast": {"broadcast", "announce", "alert"},
	"send_public_alert":          {"alert", "notify", "outage"},
	"log_incident":               {""},
}

// ScriptedDecider is a deterministic decision-logic implementation backed by
// the agent's mocked operations. It stands in for the generative model in
// tests and local topologies.
type ScriptedDecider struct {
	agent string
	log   *slog.Logger
}

// NewScriptedDecider returns a decider acting as the named agent.
func NewScriptedDecider(name string, log *slog.Logger) *ScriptedDecider {
	return &ScriptedDecider{agent: Normalize(name), log: log}
}

var _ decider.Decider = (*ScriptedDecider)(nil)

// Decide scans the request for keywords, runs the matching operations in
// order, and synthesizes a summary. Token usage is estimated from text
// length so ledger accounting stays exercised.
func (d *ScriptedDecider) Decide(ctx context.Context, request string) (*decider.Outcome, error) {
	lower := strings.ToLower(request)

	out := &decider.Outcome{}
	for _, op := range Ops(d.agent) {
		if !matches(op.Name, lower) {
			continue
		}
		result, err := op.Invoke(ctx, request)
		if err != nil {
			return nil, err
		}
		d.log.Info("operation invoked", "agent", d.agent, "op", op.Name)
		out.ToolsCalled = append(out.ToolsCalled, op.Name)
		out.ToolResults = append(out.ToolResults, delegation.ToolResult{
			Tool:   op.Name,
			Result: result,
		})
	}

	if len(out.ToolsCalled) == 0 {
		out.FinalText = fmt.Sprintf("%s acknowledged the request; no operations were required", d.agent)
	} else {
		out.FinalText = fmt.Sprintf("%s completed %d operation(s): %s",
			d.agent, len(out.ToolsCalled), strings.Join(out.ToolsCalled, ", "))
	}

	out.Tokens = decider.TokenUsage{
		Prompt:     len(request) / 4,
		Completion: len(out.FinalText) / 4,
	}
	return out, nil
}

func matches(opName, lowerRequest string) bool {
	for _, kw := range keywords[opName] {
		if strings.Contains(lowerRequest, kw) {
			return true
		}
	}
	return false
}
