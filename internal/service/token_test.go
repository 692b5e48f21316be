package service

import (
	"strings"
	"testing"
	"time"
)

func TestIssueAndValidate(t *testing.T) {
	s := NewTokenService("mesh-secret", 5*time.Minute)

	token, err := s.Issue("fire-chief-agent", "medical-agent", "cid-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := s.Validate(token, "medical-agent")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Issuer != "fire-chief-agent" {
		t.Errorf("iss = %q", claims.Issuer)
	}
	if claims.Audience != "medical-agent" {
		t.Errorf("aud = %q", claims.Audience)
	}
	if claims.CorrelationID != "cid-1" {
		t.Errorf("cid = %q", claims.CorrelationID)
	}
}

func TestValidateRejectsWrongAudience(t *testing.T) {
	s := NewTokenService("mesh-secret", 5*time.Minute)

	token, err := s.Issue("fire-chief-agent", "medical-agent", "cid-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := s.Validate(token, "utility-agent"); err == nil {
		t.Fatal("expected audience rejection")
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	s := NewTokenService("mesh-secret", 5*time.Minute)
	issued := time.Now()
	s.now = func() time.Time { return issued }

	token, err := s.Issue("fire-chief-agent", "medical-agent", "cid-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	s.now = func() time.Time { return issued.Add(6 * time.Minute) }
	if _, err := s.Validate(token, "medical-agent"); err == nil {
		t.Fatal("expected expiry rejection")
	}
}

func TestValidateRejectsTampering(t *testing.T) {
	s := NewTokenService("mesh-secret", 5*time.Minute)

	token, err := s.Issue("fire-chief-agent", "medical-agent", "cid-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	parts := strings.Split(token, ".")
	forged := parts[0] + "." + base64URLEncode([]byte(`{"iss":"rogue","aud":"medical-agent","exp":9999999999}`)) + "." + parts[2]
	if _, err := s.Validate(forged, "medical-agent"); err == nil {
		t.Fatal("expected signature rejection")
	}

	other := NewTokenService("different-secret", 5*time.Minute)
	if _, err := other.Validate(token, "medical-agent"); err == nil {
		t.Fatal("expected cross-secret rejection")
	}
}

func TestValidateRejectsMalformed(t *testing.T) {
	s := NewTokenService("mesh-secret", 5*time.Minute)
	for _, tok := range []string{"", "abc", "a.b", "not a token at all"} {
		if _, err := s.Validate(tok, "medical-agent"); err == nil {
			t.Errorf("Validate(%q) accepted a malformed token", tok)
		}
	}
}
