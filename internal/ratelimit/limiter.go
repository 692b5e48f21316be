// Package ratelimit implements a cross-process token bucket. Agent processes
// share one downstream per-minute quota, so bucket state lives in a file
// guarded by an advisory lock file. The lock file is the cheapest
// cross-process mutex available without a broker; its 5s staleness heuristic
// papers over a holder crashing mid-lock but is not a correctness guarantee.
package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	stateFileName = "ratelimit_state.json"
	lockFileName  = "ratelimit.lock"

	// lockRetryInterval is the sleep between lock acquisition attempts.
	lockRetryInterval = 100 * time.Millisecond

	// waitBuffer is added to the computed refill wait so the next attempt
	// lands past the token boundary.
	waitBuffer = 100 * time.Millisecond
)

// bucketState is the JSON payload shared between processes.
type bucketState struct {
	Tokens     float64 `json:"tokens"`
	LastUpdate float64 `json:"last_update"`
}

// Limiter is a file-backed token bucket shared by all agent processes on a
// host. One token is consumed per Acquire; tokens refill continuously at the
// configured per-minute rate up to capacity.
type Limiter struct {
	rate       float64 // tokens per second
	capacity   float64
	stateFile  string
	lockFile   string
	staleAfter time.Duration
	lockWait   time.Duration
	log        *slog.Logger
	now        func() time.Time // for testing
	sleep      func(ctx context.Context, d time.Duration) error
}

// New creates a limiter storing shared state under dir, which is created if
// missing. requestsPerMinute is both the refill rate and the bucket capacity.
func New(dir string, requestsPerMinute int, staleAfter, lockWait time.Duration, log *slog.Logger) (*Limiter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	l := &Limiter{
		rate:       float64(requestsPerMinute) / 60.0,
		capacity:   float64(requestsPerMinute),
		stateFile:  filepath.Join(dir, stateFileName),
		lockFile:   filepath.Join(dir, lockFileName),
		staleAfter: staleAfter,
		lockWait:   lockWait,
		log:        log,
		now:        time.Now,
		sleep:      sleepCtx,
	}

	if _, err := os.Stat(l.stateFile); errors.Is(err, fs.ErrNotExist) {
		l.writeState(bucketState{Tokens: l.capacity, LastUpdate: unix(l.now())})
	}
	return l, nil
}

func unix(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
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

// Acquire blocks until a token is available or ctx is done, and returns how
// long it waited. Lock contention is retried internally and never surfaced.
func (l *Limiter) Acquire(ctx context.Context) (time.Duration, error) {
	start := l.now()
	for {
		if err := ctx.Err(); err != nil {
			return l.now().Sub(start), err
		}

		if !l.acquireLock(ctx) {
			// Could not get the lock inside the window. Back off and
			// retry rather than failing the caller.
			l.log.Warn("rate limit lock unavailable, retrying")
			if err := l.sleep(ctx, time.Second); err != nil {
				return l.now().Sub(start), err
			}
			continue
		}

		wait := l.tryConsume()
		l.releaseLock()

		if wait <= 0 {
			return l.now().Sub(start), nil
		}

		// Sleep outside the lock so other processes can refill/consume.
		l.log.Info("rate limited, waiting for refill", "wait", wait)
		if err := l.sleep(ctx, wait+waitBuffer); err != nil {
			return l.now().Sub(start), err
		}
	}
}

// tryConsume refills the bucket, consumes a token if one is available, and
// returns 0, or returns the time until a full token will exist. Must be
// called with the lock held.
func (l *Limiter) tryConsume() time.Duration {
	state := l.readState()

	now := unix(l.now())
	elapsed := now - state.LastUpdate
	if elapsed < 0 {
		elapsed = 0
	}

	tokens := state.Tokens + elapsed*l.rate
	if tokens > l.capacity {
		tokens = l.capacity
	}

	if tokens >= 1.0 {
		l.writeState(bucketState{Tokens: tokens - 1.0, LastUpdate: now})
		return 0
	}

	// Persist the partial refill so concurrent processes observe it.
	l.writeState(bucketState{Tokens: tokens, LastUpdate: now})
	return time.Duration((1.0 - tokens) / l.rate * float64(time.Second))
}

// acquireLock creates the lock file atomically, removing it first if it
// looks abandoned. Returns false when the lock wait window expires.
func (l *Limiter) acquireLock(ctx context.Context) bool {
	deadline := l.now().Add(l.lockWait)
	for l.now().Before(deadline) {
		fd, err := os.OpenFile(l.lockFile, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
		if err == nil {
			fd.Close()
			return true
		}
		if !errors.Is(err, fs.ErrExist) {
			l.log.Error("rate limit lock error", "error", err)
		} else if info, serr := os.Stat(l.lockFile); serr == nil {
			if l.now().Sub(info.ModTime()) > l.staleAfter {
				l.log.Warn("removing stale rate limit lock")
				_ = os.Remove(l.lockFile)
				continue
			}
		}
		if sleepCtx(ctx, lockRetryInterval) != nil {
			return false
		}
	}
	return false
}

func (l *Limiter) releaseLock() {
	if err := os.Remove(l.lockFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		l.log.Error("rate limit unlock error", "error", err)
	}
}

// readState falls back to a full bucket when the file is missing or corrupt,
// matching a fresh initialization.
func (l *Limiter) readState() bucketState {
	data, err := os.ReadFile(l.stateFile)
	if err == nil {
		var state bucketState
		if json.Unmarshal(data, &state) == nil {
			return state
		}
	}
	l.log.Warn("rate limit state unreadable, resetting", "error", err)
	return bucketState{Tokens: l.capacity, LastUpdate: unix(l.now())}
}

func (l *Limiter) writeState(state bucketState) {
	data, err := json.Marshal(state)
	if err == nil {
		err = os.WriteFile(l.stateFile, data, 0o644)
	}
	if err != nil {
		l.log.Error("rate limit state write failed", "error", err)
	}
}
