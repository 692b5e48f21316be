package nats

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/respondmesh/respondmesh/internal/port/events"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Publisher {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	p, err := Connect(context.Background(), url)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := p.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return p
}

func TestPublisherEmitsOnStatusSubject(t *testing.T) {
	p := testConnect(t)
	ctx := context.Background()

	want := events.DelegationEvent{
		DelegationID:  42,
		CorrelationID: "cid-" + t.Name(),
		IncidentID:    "MVP_FIRE_001",
		SourceAgent:   "fire-chief-agent",
		TargetAgent:   "medical-agent",
		Status:        "COMPLETED",
		DurationMS:    1200,
	}

	if err := p.Publish(ctx, want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// Read the event back from the stream via an ephemeral ordered consumer.
	consumer, err := p.js.OrderedConsumer(ctx, streamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{"mesh.delegations.completed"},
	})
	if err != nil {
		t.Fatalf("create consumer: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		msg, err := consumer.Next(jetstream.FetchMaxWait(time.Second))
		if err != nil {
			continue
		}
		var got events.DelegationEvent
		if err := json.Unmarshal(msg.Data(), &got); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if got.CorrelationID == want.CorrelationID {
			if got.TargetAgent != "medical-agent" || got.DelegationID != 42 {
				t.Fatalf("event = %+v", got)
			}
			return
		}
	}
	t.Fatal("published event never observed on the stream")
}

func TestPublishFailedStatusSubject(t *testing.T) {
	p := testConnect(t)

	err := p.Publish(context.Background(), events.DelegationEvent{
		CorrelationID: "cid-" + t.Name(),
		SourceAgent:   "dispatch-agent",
		TargetAgent:   "utility-agent",
		Status:        "FAILED",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
}
