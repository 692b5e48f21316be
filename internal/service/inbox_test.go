package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/respondmesh/respondmesh/internal/domain"
	"github.com/respondmesh/respondmesh/internal/domain/delegation"
	"github.com/respondmesh/respondmesh/internal/domain/envelope"
	"github.com/respondmesh/respondmesh/internal/domain/handshake"
	"github.com/respondmesh/respondmesh/internal/mesh"
	"github.com/respondmesh/respondmesh/internal/port/decider"
	"github.com/respondmesh/respondmesh/internal/resilience"
)

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// memHandshakeStore is an in-memory HandshakeStore for inbox tests.
type memHandshakeStore struct {
	mu      sync.Mutex
	records map[string]*handshake.Record
}

func newMemHandshakeStore() *memHandshakeStore {
	return &memHandshakeStore{records: make(map[string]*handshake.Record)}
}

func (s *memHandshakeStore) Create(_ context.Context, cid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[cid] = &handshake.Record{CorrelationID: cid, Status: handshake.StatusPending, CreatedAt: time.Now()}
	return nil
}

func (s *memHandshakeStore) Complete(_ context.Context, cid string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[cid]; ok {
		rec.Status = handshake.StatusCompleted
		rec.Result = result
	}
	return nil
}

func (s *memHandshakeStore) Get(_ context.Context, cid string) (*handshake.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[cid]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *memHandshakeStore) Delete(_ context.Context, cid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, cid)
	return nil
}

// recordingDecider captures the instruction it was asked to decide.
type recordingDecider struct {
	mu      sync.Mutex
	inputs  []string
	outcome *decider.Outcome
	err     error
}

func (d *recordingDecider) Decide(_ context.Context, request string) (*decider.Outcome, error) {
	d.mu.Lock()
	d.inputs = append(d.inputs, request)
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	if d.outcome != nil {
		return d.outcome, nil
	}
	return &decider.Outcome{FinalText: "done"}, nil
}

func (d *recordingDecider) lastInput() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.inputs) == 0 {
		return ""
	}
	return d.inputs[len(d.inputs)-1]
}

// noopResolver satisfies mesh.Resolver for coordinators that never send.
type noopResolver struct{}

func (noopResolver) Resolve(context.Context, string) (string, error) {
	return "", domain.ErrNotFound
}
func (noopResolver) Invalidate(context.Context, string) {}

func newInboxFixture(t *testing.T, d decider.Decider, st *memHandshakeStore) (*Inbox, *mesh.Coordinator) {
	t.Helper()
	breakers := resilience.NewGroup(3, time.Minute, 1)
	client := mesh.NewClient(noopResolver{}, breakers, nil, nil, 1, time.Second, time.Second, discardLogger())
	var co *mesh.Coordinator
	if st != nil {
		co = mesh.NewCoordinator(client, breakers, st, 20*time.Millisecond, discardLogger())
	} else {
		co = mesh.NewCoordinator(client, breakers, nil, 20*time.Millisecond, discardLogger())
	}
	return NewInbox("medical-agent", co, d, nil, discardLogger()), co
}

func handshakeRequestText(t *testing.T, source, cid, request string) string {
	t.Helper()
	env, err := envelope.NewHandshakeRequest(source, cid, envelope.DelegationPayload{
		Type:             envelope.TypeDelegationRequest,
		Request:          request,
		Source:           source,
		RequiresResponse: true,
	})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	text, err := env.Encode()
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	return string(text)
}

func TestHandleHandshakeRequestResolvesWithOutcome(t *testing.T) {
	d := &recordingDecider{outcome: &decider.Outcome{
		ToolsCalled: []string{"dispatch_ambulances"},
		ToolResults: []delegation.ToolResult{{Tool: "dispatch_ambulances", Result: map[string]any{"status": "dispatched"}}},
		FinalText:   "ambulances dispatched",
		Tokens:      decider.TokenUsage{Prompt: 40, Completion: 12},
	}}
	st := newMemHandshakeStore()
	ib, _ := newInboxFixture(t, d, st)

	st.Create(context.Background(), "cid-hr")
	msg := handshakeRequestText(t, "fire-chief-agent", "cid-hr", "send two ambulances to the refinery")

	if err := ib.Handle(context.Background(), msg, "cid-hr"); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	instr := d.lastInput()
	if !strings.Contains(instr, "fire-chief-agent") || !strings.Contains(instr, "send two ambulances") {
		t.Fatalf("decider instruction = %q", instr)
	}

	rec, err := st.Get(context.Background(), "cid-hr")
	if err != nil {
		t.Fatalf("Get record: %v", err)
	}
	if !rec.Completed() {
		t.Fatal("handshake record not completed")
	}
	var resp Response
	if err := json.Unmarshal(rec.Result, &resp); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if resp.Status != "completed" || resp.Message != "ambulances dispatched" {
		t.Fatalf("response = %+v", resp)
	}
	if resp.PromptTokens != 40 || resp.CompletionTokens != 12 {
		t.Fatalf("tokens = %d/%d", resp.PromptTokens, resp.CompletionTokens)
	}
}

func TestHandleHandshakeRequestDeciderFailure(t *testing.T) {
	d := &recordingDecider{err: errors.New("model unavailable")}
	st := newMemHandshakeStore()
	ib, _ := newInboxFixture(t, d, st)

	st.Create(context.Background(), "cid-fail")
	msg := handshakeRequestText(t, "fire-chief-agent", "cid-fail", "anything")

	if err := ib.Handle(context.Background(), msg, "cid-fail"); err == nil {
		t.Fatal("expected decider error to propagate")
	}

	// The requester still gets a structured failure, not a timeout.
	rec, err := st.Get(context.Background(), "cid-fail")
	if err != nil {
		t.Fatalf("Get record: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(rec.Result, &resp); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if resp.Status != "failed" {
		t.Fatalf("response status = %q, want failed", resp.Status)
	}
}

// staticResolver satisfies mesh.Resolver with a fixed table.
type staticResolver map[string]string

func (r staticResolver) Resolve(_ context.Context, name string) (string, error) {
	if url, ok := r[name]; ok {
		return url, nil
	}
	return "", domain.ErrNotFound
}

func (staticResolver) Invalidate(context.Context, string) {}

func TestHandleHandshakeRequestConfirmsOverWire(t *testing.T) {
	confirmations := make(chan envelope.Envelope, 1)
	requester := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var wm struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&wm); err != nil {
			t.Errorf("decode wire message: %v", err)
		}
		if env, err := envelope.Decode([]byte(wm.Message)); err == nil {
			confirmations <- *env
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer requester.Close()

	breakers := resilience.NewGroup(3, time.Minute, 1)
	client := mesh.NewClient(staticResolver{"fire-chief-agent": requester.URL}, breakers,
		nil, nil, 1, time.Second, time.Second, discardLogger())
	co := mesh.NewCoordinator(client, breakers, nil, 20*time.Millisecond, discardLogger())
	d := &recordingDecider{outcome: &decider.Outcome{FinalText: "ambulances dispatched"}}
	ib := NewInbox("medical-agent", co, d, nil, discardLogger())

	msg := handshakeRequestText(t, "fire-chief-agent", "cid-wire", "send two ambulances")
	if err := ib.Handle(context.Background(), msg, "cid-wire"); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	// The requester in another process gets a HANDSHAKE_RESULT over the wire
	// in addition to the durable-record completion.
	select {
	case env := <-confirmations:
		if env.Type != envelope.TypeHandshakeResult {
			t.Fatalf("envelope type = %s, want HANDSHAKE_RESULT", env.Type)
		}
		if env.CorrelationID != "cid-wire" || env.Source != "medical-agent" {
			t.Fatalf("envelope = %+v", env)
		}
		var resp Response
		if err := json.Unmarshal(env.Result, &resp); err != nil {
			t.Fatalf("decode result: %v", err)
		}
		if resp.Status != "completed" || resp.Message != "ambulances dispatched" {
			t.Fatalf("response = %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("no wire confirmation received")
	}
}

func TestHandleHandshakeResultResolvesCoordinator(t *testing.T) {
	d := &recordingDecider{}
	st := newMemHandshakeStore()
	ib, _ := newInboxFixture(t, d, st)

	st.Create(context.Background(), "cid-res")
	env, err := envelope.NewHandshakeResult("medical-agent", "cid-res", map[string]string{"status": "accepted"})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	text, _ := env.Encode()

	if err := ib.Handle(context.Background(), string(text), "cid-res"); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	rec, err := st.Get(context.Background(), "cid-res")
	if err != nil {
		t.Fatalf("Get record: %v", err)
	}
	if !rec.Completed() {
		t.Fatal("record not completed by inbound result")
	}
	if len(d.inputs) != 0 {
		t.Fatal("handshake result should not invoke the decision logic")
	}
}

func TestHandlePlainTextRunsDecider(t *testing.T) {
	d := &recordingDecider{}
	ib, _ := newInboxFixture(t, d, nil)

	if err := ib.Handle(context.Background(), "smoke reported near the docks", "cid-plain"); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if d.lastInput() != "smoke reported near the docks" {
		t.Fatalf("decider input = %q", d.lastInput())
	}
}
