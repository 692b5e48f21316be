// Package service implements the agent-facing services: credential issuing,
// inbound envelope processing, and the delegation ledger.
package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TokenClaims are the claims carried by an inter-agent credential. Issuer is
// the sending agent, Audience the receiving agent; a token is scoped to one
// correlation ID and one target.
type TokenClaims struct {
	Issuer        string `json:"iss"`
	Audience      string `json:"aud"`
	CorrelationID string `json:"cid"`
	IssuedAt      int64  `json:"iat"`
	Expiry        int64  `json:"exp"`
}

// TokenService mints and validates HS256 compact tokens shared-secret style.
// Every send gets a fresh token scoped to its target and correlation ID.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time // for testing
}

// NewTokenService creates a token service with the shared mesh secret.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// tokenHeader is the fixed base64url-encoded header for HS256.
var tokenHeader = base64URLEncode([]byte(`{"alg":"HS256","typ":"JWT"}`))

// Issue mints a token for one send from source to target.
func (s *TokenService) Issue(source, target, correlationID string) (string, error) {
	now := s.now()
	claims := TokenClaims{
		Issuer:        source,
		Audience:      target,
		CorrelationID: correlationID,
		IssuedAt:      now.Unix(),
		Expiry:        now.Add(s.ttl).Unix(),
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	signingInput := tokenHeader + "." + base64URLEncode(payload)
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(signingInput))
	return signingInput + "." + base64URLEncode(mac.Sum(nil)), nil
}

// Validate verifies a token's signature and expiry and checks that it was
// minted for audience.
func (s *TokenService) Validate(tokenStr, audience string) (*TokenClaims, error) {
	parts := strings.SplitN(tokenStr, ".", 3)
	if len(parts) != 3 {
		return nil, errors.New("malformed token")
	}

	signingInput := parts[0] + "." + parts[1]
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(signingInput))
	expectedSig := base64URLEncode(mac.Sum(nil))

	if !hmac.Equal([]byte(parts[2]), []byte(expectedSig)) {
		return nil, errors.New("invalid signature")
	}

	payload, err := base64URLDecode(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	var claims TokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("unmarshal claims: %w", err)
	}

	if s.now().Unix() > claims.Expiry {
		return nil, errors.New("token expired")
	}
	if claims.Audience != audience {
		return nil, errors.New("invalid token audience")
	}
	return &claims, nil
}

func base64URLEncode(data []byte) string {
	return strings.TrimRight(base64.URLEncoding.EncodeToString(data), "=")
}

func base64URLDecode(s string) ([]byte, error) {
	// Add padding back
	switch len(s) % 4 {
	case 2:
		s += "=="
	case 3:
		s += "="
	}
	return base64.URLEncoding.DecodeString(s)
}
