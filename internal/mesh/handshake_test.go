package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/respondmesh/respondmesh/internal/domain"
	"github.com/respondmesh/respondmesh/internal/domain/envelope"
	"github.com/respondmesh/respondmesh/internal/domain/handshake"
	"github.com/respondmesh/respondmesh/internal/resilience"
)

// memStore is an in-memory HandshakeStore fake.
type memStore struct {
	mu      sync.Mutex
	records map[string]*handshake.Record
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*handshake.Record)}
}

func (s *memStore) Create(_ context.Context, cid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[cid] = &handshake.Record{
		CorrelationID: cid,
		Status:        handshake.StatusPending,
		CreatedAt:     time.Now(),
	}
	return nil
}

func (s *memStore) Complete(_ context.Context, cid string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[cid]; ok {
		rec.Status = handshake.StatusCompleted
		rec.Result = result
	}
	return nil
}

func (s *memStore) Get(_ context.Context, cid string) (*handshake.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[cid]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) Delete(_ context.Context, cid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, cid)
	return nil
}

func (s *memStore) exists(cid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[cid]
	return ok
}

// acceptingPeer accepts every message and forwards decoded envelopes on the
// returned channel.
func acceptingPeer(t *testing.T) (*httptest.Server, <-chan envelope.Envelope) {
	t.Helper()
	envelopes := make(chan envelope.Envelope, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var wm wireMessage
		if err := json.NewDecoder(r.Body).Decode(&wm); err != nil {
			t.Errorf("decode wire message: %v", err)
		}
		if env, err := envelope.Decode([]byte(wm.Message)); err == nil {
			envelopes <- *env
		}
		w.WriteHeader(http.StatusOK)
	}))
	return srv, envelopes
}

func newCoordinator(t *testing.T, peerURL string, st *memStore) (*Coordinator, *resilience.Group) {
	t.Helper()
	resolver := newFakeResolver()
	resolver.set("medical-agent", peerURL)
	breakers := resilience.NewGroup(3, time.Minute, 1)
	client := newTestClient(resolver, breakers)

	var hstore *memStore
	if st != nil {
		hstore = st
	}
	if hstore == nil {
		return NewCoordinator(client, breakers, nil, 20*time.Millisecond, slog.New(slog.DiscardHandler)), breakers
	}
	return NewCoordinator(client, breakers, hstore, 20*time.Millisecond, slog.New(slog.DiscardHandler)), breakers
}

func TestRequestResolvedInProcess(t *testing.T) {
	peer, envelopes := acceptingPeer(t)
	defer peer.Close()

	co, breakers := newCoordinator(t, peer.URL, nil)

	// Resolve as soon as the request envelope reaches the peer.
	go func() {
		env := <-envelopes
		co.Resolve(context.Background(), env.CorrelationID, json.RawMessage(`{"message":"done"}`))
	}()

	result, err := co.Request(context.Background(), "fire-chief", "medical",
		map[string]string{"request": "send ambulances"}, "", time.Second)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if string(result) != `{"message":"done"}` {
		t.Fatalf("result = %s", result)
	}
	if state := breakers.StateOf("medical-agent"); state != resilience.StateClosed {
		t.Fatalf("breaker state = %s", state)
	}
}

func TestRequestCarriesHandshakeEnvelope(t *testing.T) {
	peer, envelopes := acceptingPeer(t)
	defer peer.Close()

	st := newMemStore()
	co, _ := newCoordinator(t, peer.URL, st)

	go func() {
		env := <-envelopes
		if env.Type != envelope.TypeHandshakeRequest {
			t.Errorf("envelope type = %s, want HANDSHAKE_REQUEST", env.Type)
		}
		if env.Source != "fire-chief-agent" {
			t.Errorf("envelope source = %s", env.Source)
		}
		co.Resolve(context.Background(), env.CorrelationID, json.RawMessage(`{}`))
	}()

	if _, err := co.Request(context.Background(), "fire_chief", "medical",
		map[string]string{"request": "assess"}, "", time.Second); err != nil {
		t.Fatalf("Request: %v", err)
	}
}

func TestRequestResolvedViaDurableRecord(t *testing.T) {
	peer, envelopes := acceptingPeer(t)
	defer peer.Close()

	st := newMemStore()
	co, _ := newCoordinator(t, peer.URL, st)

	// Complete the record directly, as a separate process would.
	go func() {
		env := <-envelopes
		st.Complete(context.Background(), env.CorrelationID, json.RawMessage(`{"ok":true}`))
	}()

	result, err := co.Request(context.Background(), "fire-chief", "medical",
		map[string]string{"request": "triage"}, "cid-durable", time.Second)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if string(result) != `{"ok":true}` {
		t.Fatalf("result = %s", result)
	}
	if st.exists("cid-durable") {
		t.Fatal("durable record should be deleted after completion")
	}
}

func TestRequestTimesOut(t *testing.T) {
	peer, _ := acceptingPeer(t)
	defer peer.Close()

	st := newMemStore()
	resolver := newFakeResolver()
	resolver.set("medical-agent", peer.URL)
	breakers := resilience.NewGroup(1, time.Minute, 1)
	client := newTestClient(resolver, breakers)
	co := NewCoordinator(client, breakers, st, 20*time.Millisecond, slog.New(slog.DiscardHandler))

	timeout := 150 * time.Millisecond
	start := time.Now()
	_, err := co.Request(context.Background(), "fire-chief", "medical",
		map[string]string{"request": "anything"}, "cid-timeout", timeout)
	elapsed := time.Since(start)

	if !errors.Is(err, domain.ErrHandshakeTimeout) {
		t.Fatalf("err = %v, want ErrHandshakeTimeout", err)
	}
	if elapsed < timeout {
		t.Fatalf("returned after %v, before the %v timeout", elapsed, timeout)
	}
	if elapsed > timeout+100*time.Millisecond {
		t.Fatalf("returned after %v, long past timeout+poll", elapsed)
	}
	if st.exists("cid-timeout") {
		t.Fatal("durable record should be deleted after timeout")
	}
	// Threshold is 1 here so the single timeout failure is observable.
	if state := breakers.StateOf("medical-agent"); state != resilience.StateOpen {
		t.Fatalf("breaker state = %s, want OPEN after timeout failure", state)
	}
}

func TestRequestRejectedWhenCircuitOpen(t *testing.T) {
	peer, _ := acceptingPeer(t)
	defer peer.Close()

	co, breakers := newCoordinator(t, peer.URL, nil)
	for i := 0; i < 3; i++ {
		breakers.RecordFailure("medical-agent")
	}

	_, err := co.Request(context.Background(), "fire-chief", "medical",
		map[string]string{"request": "x"}, "", time.Second)
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestRequestRecoversAfterCircuitReset(t *testing.T) {
	peer, envelopes := acceptingPeer(t)
	defer peer.Close()

	resolver := newFakeResolver()
	resolver.set("medical-agent", peer.URL)
	breakers := resilience.NewGroup(3, 50*time.Millisecond, 1)
	client := newTestClient(resolver, breakers)
	co := NewCoordinator(client, breakers, nil, 20*time.Millisecond, slog.New(slog.DiscardHandler))

	for i := 0; i < 3; i++ {
		breakers.RecordFailure("medical-agent")
	}
	if _, err := co.Request(context.Background(), "fire-chief", "medical",
		map[string]string{"request": "x"}, "", time.Second); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen inside the reset window", err)
	}

	// Once the reset window has elapsed, a healthy target must be reachable
	// again: the single half-open probe goes to the delivery, succeeds, and
	// closes the circuit.
	time.Sleep(60 * time.Millisecond)

	go func() {
		env := <-envelopes
		co.Resolve(context.Background(), env.CorrelationID, json.RawMessage(`{"message":"recovered"}`))
	}()

	result, err := co.Request(context.Background(), "fire-chief", "medical",
		map[string]string{"request": "status check"}, "", time.Second)
	if err != nil {
		t.Fatalf("Request after reset: %v", err)
	}
	if string(result) != `{"message":"recovered"}` {
		t.Fatalf("result = %s", result)
	}
	if state := breakers.StateOf("medical-agent"); state != resilience.StateClosed {
		t.Fatalf("breaker state = %s, want CLOSED after recovery", state)
	}
}

func TestResolveWithoutWaiterStillCompletesRecord(t *testing.T) {
	peer, _ := acceptingPeer(t)
	defer peer.Close()

	st := newMemStore()
	co, _ := newCoordinator(t, peer.URL, st)

	st.Create(context.Background(), "orphan")
	co.Resolve(context.Background(), "orphan", json.RawMessage(`{"late":true}`))

	rec, err := st.Get(context.Background(), "orphan")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !rec.Completed() || string(rec.Result) != `{"late":true}` {
		t.Fatalf("record = %+v", rec)
	}
}
