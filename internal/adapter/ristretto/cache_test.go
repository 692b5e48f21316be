package ristretto

import (
	"context"
	"testing"
	"time"
)

func TestSetGetDelete(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	ctx := context.Background()

	if err := c.Set(ctx, "medical-agent", []byte("http://localhost:9005"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := c.Get(ctx, "medical-agent")
	if err != nil || !ok {
		t.Fatalf("Get after Set: ok=%v err=%v", ok, err)
	}
	if string(got) != "http://localhost:9005" {
		t.Fatalf("Get = %q", got)
	}

	if err := c.Delete(ctx, "medical-agent"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "medical-agent"); ok {
		t.Fatal("expected miss after Delete")
	}
}

func TestTTLExpiry(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Set(ctx, "k", []byte("v"), 50*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expected entry to expire")
	}
}
