// Package envelope defines the JSON message envelope exchanged between agents.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type discriminates the envelope kinds on the wire.
type Type string

const (
	TypeHandshakeRequest  Type = "HANDSHAKE_REQUEST"
	TypeHandshakeResult   Type = "HANDSHAKE_RESULT"
	TypeDelegationRequest Type = "DELEGATION_REQUEST"
)

// ErrNotEnvelope indicates the message text is not a structured envelope.
// Receivers treat such messages as plain natural-language input.
var ErrNotEnvelope = errors.New("not a message envelope")

// Envelope is the inter-agent message frame. Payload and Result are opaque to
// the messaging layer; only the receiving agent interprets them.
type Envelope struct {
	Type          Type            `json:"type"`
	Source        string          `json:"source,omitempty"`
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload,omitempty"` // HANDSHAKE_REQUEST
	Result        json.RawMessage `json:"result,omitempty"`  // HANDSHAKE_RESULT
}

// DelegationPayload is the payload carried by a HANDSHAKE_REQUEST that asks
// another agent to handle part of an incident.
type DelegationPayload struct {
	Type             Type   `json:"type"` // always TypeDelegationRequest
	Request          string `json:"request"`
	Source           string `json:"source"`
	RequiresResponse bool   `json:"requires_response"`
	IsFailover       bool   `json:"is_failover,omitempty"`
	OriginalTarget   string `json:"original_target,omitempty"`
}

// Decode parses message text into an Envelope. Text that is not JSON, or JSON
// without a known type, returns ErrNotEnvelope.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrNotEnvelope
	}
	switch env.Type {
	case TypeHandshakeRequest, TypeHandshakeResult, TypeDelegationRequest:
		return &env, nil
	default:
		return nil, ErrNotEnvelope
	}
}

// Encode serializes the envelope to its wire form.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// DelegationPayload decodes the envelope payload as a delegation request.
func (e *Envelope) DelegationPayload() (*DelegationPayload, error) {
	var p DelegationPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode delegation payload: %w", err)
	}
	return &p, nil
}

// NewHandshakeRequest builds a HANDSHAKE_REQUEST envelope around an opaque payload.
func NewHandshakeRequest(source, correlationID string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Envelope{
		Type:          TypeHandshakeRequest,
		Source:        source,
		CorrelationID: correlationID,
		Payload:       raw,
	}, nil
}

// NewHandshakeResult builds a HANDSHAKE_RESULT envelope around an opaque result.
func NewHandshakeResult(source, correlationID string, result any) (*Envelope, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Envelope{
		Type:          TypeHandshakeResult,
		Source:        source,
		CorrelationID: correlationID,
		Result:        raw,
	}, nil
}
