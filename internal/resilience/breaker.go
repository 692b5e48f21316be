// Package resilience provides reliability patterns for inter-agent calls.
package resilience

import (
	"sync"
	"time"
)

// State is the externally visible circuit state for one destination.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

type circuit struct {
	state       State
	failures    int
	lastFailure time.Time
	probes      int
}

// Group tracks one circuit breaker per destination. A destination starts
// CLOSED, opens after maxFailures consecutive failures (or any failure while
// half-open), and transitions to HALF_OPEN once resetTimeout has elapsed
// since the last failure. Half-open admits at most halfOpenMax probes before
// rejecting again until the next transition.
//
// The group is a cooperative gate: it never preempts in-flight calls, only
// blocks new ones. State is in-memory and rebuilt cold (CLOSED) on restart.
type Group struct {
	mu           sync.Mutex
	circuits     map[string]*circuit
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	now          func() time.Time // for testing
}

// NewGroup creates a breaker group with the given thresholds.
func NewGroup(maxFailures int, resetTimeout time.Duration, halfOpenMax int) *Group {
	return &Group{
		circuits:     make(map[string]*circuit),
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		halfOpenMax:  halfOpenMax,
		now:          time.Now,
	}
}

// get must be called with g.mu held.
func (g *Group) get(destination string) *circuit {
	c, ok := g.circuits[destination]
	if !ok {
		c = &circuit{state: StateClosed}
		g.circuits[destination] = c
	}
	return c
}

// Allow reports whether a new call to destination may proceed. An OPEN
// circuit whose reset timeout has elapsed moves to HALF_OPEN and admits the
// caller as a probe.
func (g *Group) Allow(destination string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	c := g.get(destination)
	switch c.state {
	case StateClosed:
		return true
	case StateOpen:
		if g.now().Sub(c.lastFailure) >= g.resetTimeout {
			c.state = StateHalfOpen
			c.probes = 1
			return true
		}
		return false
	case StateHalfOpen:
		if c.probes < g.halfOpenMax {
			c.probes++
			return true
		}
		return false
	}
	return false
}

// RecordSuccess closes the circuit for destination and zeroes its counters.
func (g *Group) RecordSuccess(destination string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c := g.get(destination)
	c.state = StateClosed
	c.failures = 0
	c.probes = 0
}

// RecordFailure counts a failure against destination, opening the circuit
// when the threshold is reached or when the failure occurred while half-open.
func (g *Group) RecordFailure(destination string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c := g.get(destination)
	c.failures++
	c.lastFailure = g.now()
	if c.state == StateHalfOpen || c.failures >= g.maxFailures {
		c.state = StateOpen
		c.probes = 0
	}
}

// Open reports whether destination is currently rejecting every new call:
// OPEN with the reset timeout still running. Unlike Allow it never consumes
// a half-open probe, so callers that gate early and Send later leave probe
// admission to the Send path's Allow.
func (g *Group) Open(destination string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.circuits[destination]
	if !ok {
		return false
	}
	return c.state == StateOpen && g.now().Sub(c.lastFailure) < g.resetTimeout
}

// StateOf returns the current state for destination. Unknown destinations
// report CLOSED without allocating a circuit.
func (g *Group) StateOf(destination string) State {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.circuits[destination]; ok {
		return c.state
	}
	return StateClosed
}

// States returns a snapshot of every tracked destination's state.
func (g *Group) States() map[string]State {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]State, len(g.circuits))
	for dest, c := range g.circuits {
		out[dest] = c.state
	}
	return out
}
