package resilience

import (
	"testing"
	"time"
)

func TestClosedAllowsCalls(t *testing.T) {
	g := NewGroup(3, time.Minute, 1)
	if !g.Allow("medical-agent") {
		t.Fatal("closed circuit should allow calls")
	}
	if got := g.StateOf("medical-agent"); got != StateClosed {
		t.Fatalf("state = %s, want CLOSED", got)
	}
}

func TestOpensAfterThresholdFailures(t *testing.T) {
	g := NewGroup(3, time.Minute, 1)

	g.RecordFailure("medical-agent")
	g.RecordFailure("medical-agent")
	if !g.Allow("medical-agent") {
		t.Fatal("two failures should not trip a threshold of three")
	}
	g.RecordFailure("medical-agent")

	if g.Allow("medical-agent") {
		t.Fatal("expected open circuit to reject calls")
	}
	if got := g.StateOf("medical-agent"); got != StateOpen {
		t.Fatalf("state = %s, want OPEN", got)
	}
}

func TestOpenCheckDoesNotConsumeProbe(t *testing.T) {
	now := time.Now()
	g := NewGroup(3, time.Minute, 1)
	g.now = func() time.Time { return now }

	if g.Open("medical-agent") {
		t.Fatal("untracked destination should not report open")
	}
	for i := 0; i < 3; i++ {
		g.RecordFailure("medical-agent")
	}
	if !g.Open("medical-agent") {
		t.Fatal("circuit should report open inside the reset window")
	}

	// Past the reset timeout the check stops rejecting but must leave both
	// the transition and the single probe to Allow.
	now = now.Add(61 * time.Second)
	if g.Open("medical-agent") {
		t.Fatal("expired circuit should not report open")
	}
	if got := g.StateOf("medical-agent"); got != StateOpen {
		t.Fatalf("state = %s, want OPEN after read-only check", got)
	}
	if !g.Allow("medical-agent") {
		t.Fatal("probe should still be available to Allow")
	}
	if got := g.StateOf("medical-agent"); got != StateHalfOpen {
		t.Fatalf("state = %s, want HALF_OPEN", got)
	}
}

func TestHalfOpenAdmitsSingleProbe(t *testing.T) {
	now := time.Now()
	g := NewGroup(3, time.Minute, 1)
	g.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		g.RecordFailure("utility-agent")
	}
	if g.Allow("utility-agent") {
		t.Fatal("circuit should be open")
	}

	// Past the reset timeout: exactly one probe is admitted.
	now = now.Add(61 * time.Second)
	if !g.Allow("utility-agent") {
		t.Fatal("expected half-open probe to be admitted")
	}
	if got := g.StateOf("utility-agent"); got != StateHalfOpen {
		t.Fatalf("state = %s, want HALF_OPEN", got)
	}
	if g.Allow("utility-agent") {
		t.Fatal("second probe should be rejected while half-open")
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	g := NewGroup(3, time.Minute, 1)
	g.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		g.RecordFailure("fire-chief-agent")
	}
	now = now.Add(61 * time.Second)
	if !g.Allow("fire-chief-agent") {
		t.Fatal("expected half-open probe")
	}

	g.RecordFailure("fire-chief-agent")
	if got := g.StateOf("fire-chief-agent"); got != StateOpen {
		t.Fatalf("state = %s, want OPEN after half-open failure", got)
	}
	if g.Allow("fire-chief-agent") {
		t.Fatal("reopened circuit should reject calls")
	}

	// The reset clock restarted at the half-open failure.
	now = now.Add(61 * time.Second)
	if !g.Allow("fire-chief-agent") {
		t.Fatal("expected a probe after the second reset timeout")
	}
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	now := time.Now()
	g := NewGroup(3, time.Minute, 1)
	g.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		g.RecordFailure("police-chief-agent")
	}
	now = now.Add(61 * time.Second)
	if !g.Allow("police-chief-agent") {
		t.Fatal("expected half-open probe")
	}

	g.RecordSuccess("police-chief-agent")
	if got := g.StateOf("police-chief-agent"); got != StateClosed {
		t.Fatalf("state = %s, want CLOSED after success", got)
	}
	if !g.Allow("police-chief-agent") {
		t.Fatal("closed circuit should allow calls")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	g := NewGroup(3, time.Minute, 1)

	g.RecordFailure("camera-agent")
	g.RecordFailure("camera-agent")
	g.RecordSuccess("camera-agent")
	g.RecordFailure("camera-agent")
	g.RecordFailure("camera-agent")

	if !g.Allow("camera-agent") {
		t.Fatal("two failures after a success should not trip the breaker")
	}
}

func TestDestinationsAreIndependent(t *testing.T) {
	g := NewGroup(3, time.Minute, 1)

	for i := 0; i < 3; i++ {
		g.RecordFailure("medical-agent")
	}
	if g.Allow("medical-agent") {
		t.Fatal("medical circuit should be open")
	}
	if !g.Allow("utility-agent") {
		t.Fatal("utility circuit should be unaffected")
	}

	states := g.States()
	if states["medical-agent"] != StateOpen {
		t.Fatalf("medical state = %s, want OPEN", states["medical-agent"])
	}
	if states["utility-agent"] != StateClosed {
		t.Fatalf("utility state = %s, want CLOSED", states["utility-agent"])
	}
}
