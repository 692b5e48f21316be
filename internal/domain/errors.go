// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrCircuitOpen indicates the circuit breaker for a destination is open and
// the call was rejected without a network attempt.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrNoRoute indicates a destination could not be resolved to an address.
var ErrNoRoute = errors.New("no route to destination")

// ErrHandshakeTimeout indicates a handshake request was sent but no matching
// result arrived within the timeout. Distinct from a transport failure: the
// request left this process.
var ErrHandshakeTimeout = errors.New("handshake timed out")
