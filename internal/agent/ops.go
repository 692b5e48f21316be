package agent

import (
	"context"
	"fmt"
	"time"
)

// OpResult is the outcome of one domain operation invocation.
type OpResult map[string]any

// Op is a mocked domain operation: a stateless computation with simulated
// latency standing in for a real dispatch/control system.
type Op struct {
	Name    string
	Latency time.Duration
	Run     func(ctx context.Context, request string) OpResult
}

// simulate sleeps for d unless ctx is cancelled first.
func simulate(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Invoke runs the operation after its simulated latency.
func (o Op) Invoke(ctx context.Context, request string) (OpResult, error) {
	if err := simulate(ctx, o.Latency); err != nil {
		return nil, fmt.Errorf("op %s: %w", o.Name, err)
	}
	return o.Run(ctx, request), nil
}

// ops maps canonical agent names to the operations they expose. Results are
// fixed-shape mocks: real integrations live behind these names in production
// deployments.
var ops = map[string][]Op{
	Medical: {
		{
			Name:    "dispatch_ambulances",
			Latency: 150 * time.Millisecond,
			Run: func(ctx context.Context, request string) OpResult {
				return OpResult{"status": "dispatched", "units": 2, "eta_minutes": 8}
			},
		},
		{
			Name:    "triage_casualties",
			Latency: 80 * time.Millisecond,
			Run: func(ctx context.Context, request string) OpResult {
				return OpResult{"status": "triage_complete", "critical": 1, "serious": 2, "minor": 3}
			},
		},
	},
	FireChief: {
		{
			Name:    "dispatch_fire_engines",
			Latency: 150 * time.Millisecond,
			Run: func(ctx context.Context, request string) OpResult {
				return OpResult{"status": "dispatched", "engines": 3, "eta_minutes": 6}
			},
		},
		{
			Name:    "assess_hazmat_risk",
			Latency: 100 * time.Millisecond,
			Run: func(ctx context.Context, request string) OpResult {
				return OpResult{"status": "assessed", "risk": "moderate", "evacuation_radius_m": 200}
			},
		},
	},
	Utility: {
		{
			Name:    "isolate_gas_lines",
			Latency: 120 * time.Millisecond,
			Run: func(ctx context.Context, request string) OpResult {
				return OpResult{"status": "isolated", "segments": 2}
			},
		},
		{
			Name:    "shut_down_power_grid",
			Latency: 120 * time.Millisecond,
			Run: func(ctx context.Context, request string) OpResult {
				return OpResult{"status": "shutdown", "blocks_affected": 4}
			},
		},
	},
	PoliceChief: {
		{
			Name:    "establish_perimeter",
			Latency: 100 * time.Millisecond,
			Run: func(ctx context.Context, request string) OpResult {
				return OpResult{"status": "established", "units": 4}
			},
		},
		{
			Name:    "emergency_public_broadcast",
			Latency: 60 * time.Millisecond,
			Run: func(ctx context.Context, request string) OpResult {
				return OpResult{"status": "broadcast", "channel": "pa_system"}
			},
		},
	},
	CivicAlert: {
		{
			Name:    "send_public_alert",
			Latency: 60 * time.Millisecond,
			Run: func(ctx context.Context, request string) OpResult {
				return OpResult{"status": "sent", "channels": []string{"sms", "app"}}
			},
		},
	},
	Dispatch: {
		{
			Name:    "log_incident",
			Latency: 30 * time.Millisecond,
			Run: func(ctx context.Context, request string) OpResult {
				return OpResult{"status": "logged"}
			},
		},
	},
}

// Ops returns the operations exposed by the named agent. Agents without
// registered operations (sensors, cameras, intake) answer with text only.
func Ops(name string) []Op {
	return ops[Normalize(name)]
}
