// Package mesh implements the inter-agent messaging layer: a retrying
// one-way client with circuit breaking and resolver cache invalidation, and
// a handshake coordinator that layers request/response semantics on top via
// correlation IDs.
package mesh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	rmotel "github.com/respondmesh/respondmesh/internal/adapter/otel"
	"github.com/respondmesh/respondmesh/internal/agent"
	"github.com/respondmesh/respondmesh/internal/domain"
	"github.com/respondmesh/respondmesh/internal/resilience"
)

// Resolver maps an agent name to a URL and supports invalidation after
// delivery failures.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, error)
	Invalidate(ctx context.Context, name string)
}

// Admission gates outbound sends against a shared downstream quota. Optional.
type Admission interface {
	Acquire(ctx context.Context) (time.Duration, error)
}

// TokenIssuer mints a bearer credential for one send. Optional.
type TokenIssuer interface {
	Issue(source, target, correlationID string) (string, error)
}

// wireMessage is the request body posted to a peer's inbound endpoint.
type wireMessage struct {
	Message       string `json:"message"`
	Source        string `json:"source"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Client sends one-way text messages to agents with bounded retries,
// exponential backoff, and per-destination circuit breaking. One instance
// per process is the intended shape, but all collaborators are injected.
type Client struct {
	resolver   Resolver
	breakers   *resilience.Group
	admission  Admission
	tokens     TokenIssuer
	httpc      *http.Client
	retries    int
	backoffCap time.Duration
	maxFanout  int
	log        *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error // for testing
}

// NewClient creates a messaging client. retries is the total number of
// delivery attempts per Send; sendTimeout bounds each attempt; backoffCap
// caps the exponential backoff between attempts. admission and tokens may be
// nil.
func NewClient(resolver Resolver, breakers *resilience.Group, admission Admission, tokens TokenIssuer,
	retries int, sendTimeout, backoffCap time.Duration, log *slog.Logger) *Client {
	return &Client{
		resolver:   resolver,
		breakers:   breakers,
		admission:  admission,
		tokens:     tokens,
		httpc:      &http.Client{Timeout: sendTimeout},
		retries:    retries,
		backoffCap: backoffCap,
		maxFanout:  8,
		log:        log,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff returns the sleep before retry attempt+1: 1s, 2s, 4s... capped.
func (c *Client) backoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > c.backoffCap {
		d = c.backoffCap
	}
	return d
}

// Send delivers text to target. The circuit breaker is consulted up front;
// each failed attempt records a breaker failure and invalidates the cached
// resolution for target so the next attempt re-resolves. The last error is
// surfaced once attempts are exhausted.
func (c *Client) Send(ctx context.Context, source, target, text, correlationID string) error {
	source, target = agent.Normalize(source), agent.Normalize(target)

	ctx, span := rmotel.StartSendSpan(ctx, target)
	defer span.End()

	if !c.breakers.Allow(target) {
		c.log.Warn("send blocked", "target", target, "reason", "circuit open")
		return fmt.Errorf("send to %s: %w", target, domain.ErrCircuitOpen)
	}

	if c.admission != nil {
		waited, err := c.admission.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("send to %s: admission: %w", target, err)
		}
		if waited > 0 {
			c.log.Info("send rate limited", "target", target, "waited", waited)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		err := c.attempt(ctx, source, target, text, correlationID)
		if err == nil {
			c.breakers.RecordSuccess(target)
			return nil
		}
		lastErr = err

		c.log.Warn("delivery attempt failed",
			"target", target, "attempt", attempt+1, "attempts", c.retries, "error", err)
		c.breakers.RecordFailure(target)
		c.resolver.Invalidate(ctx, target)

		if attempt < c.retries-1 {
			if serr := c.sleep(ctx, c.backoff(attempt)); serr != nil {
				return fmt.Errorf("send to %s: %w", target, serr)
			}
		}
	}
	return fmt.Errorf("send to %s: %w", target, lastErr)
}

// attempt performs one resolution + delivery.
func (c *Client) attempt(ctx context.Context, source, target, text, correlationID string) error {
	url, err := c.resolver.Resolve(ctx, target)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}

	body, err := json.Marshal(wireMessage{
		Message:       text,
		Source:        source,
		CorrelationID: correlationID,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/a2a/message", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if correlationID != "" {
		req.Header.Set("X-Correlation-ID", correlationID)
	}
	if c.tokens != nil {
		token, err := c.tokens.Issue(source, target, correlationID)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("deliver: peer returned %d", resp.StatusCode)
	}
	return nil
}

// Broadcast fans Send out to all targets concurrently and returns per-target
// outcomes. A failing target never blocks delivery to the others.
func (c *Client) Broadcast(ctx context.Context, source string, targets []string, text string) map[string]error {
	results := make([]error, len(targets))

	g := new(errgroup.Group)
	g.SetLimit(c.maxFanout)
	for i, target := range targets {
		g.Go(func() error {
			results[i] = c.Send(ctx, source, target, text, "")
			return nil
		})
	}
	g.Wait() // always nil

	out := make(map[string]error, len(targets))
	for i, target := range targets {
		out[agent.Normalize(target)] = results[i]
	}
	return out
}

// CircuitStates exposes the per-destination breaker snapshot for the status
// endpoint.
func (c *Client) CircuitStates() map[string]resilience.State {
	return c.breakers.States()
}
