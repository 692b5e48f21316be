package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/respondmesh/respondmesh/internal/domain/delegation"
)

// DelegationStore implements store.DelegationStore against the shared
// database. The (incident_id, target_agent) index backs the dedup lookup on
// every delegation, so FindRecent stays cheap as the ledger grows.
type DelegationStore struct {
	pool *pgxpool.Pool
}

// NewDelegationStore creates a DelegationStore backed by the given pool.
func NewDelegationStore(pool *pgxpool.Pool) *DelegationStore {
	return &DelegationStore{pool: pool}
}

// Create inserts a new ledger entry and returns its assigned ID.
func (s *DelegationStore) Create(ctx context.Context, e *delegation.Entry) (int64, error) {
	toolsJSON, resultsJSON, err := marshalTelemetry(e.ToolsCalled, e.ToolResults)
	if err != nil {
		return 0, err
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO delegation_logs (correlation_id, source_agent, target_agent, request_text, incident_id,
		                              tools_called, tool_results, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, started_at, created_at`,
		e.CorrelationID, e.SourceAgent, e.TargetAgent, e.RequestText, e.IncidentID,
		toolsJSON, resultsJSON, string(e.Status),
	).Scan(&e.ID, &e.StartedAt, &e.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("create delegation entry: %w", err)
	}
	return e.ID, nil
}

// Update applies a terminal status and telemetry to an existing entry.
func (s *DelegationStore) Update(ctx context.Context, id int64, upd delegation.Update) error {
	toolsJSON, resultsJSON, err := marshalTelemetry(upd.ToolsCalled, upd.ToolResults)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE delegation_logs
		 SET duration_ms = $2, tools_called = $3, tool_results = $4, final_response = $5,
		     prompt_tokens = $6, completion_tokens = $7, total_tokens = $6 + $7,
		     status = $8, completed_at = now()
		 WHERE id = $1`,
		id, upd.DurationMS, toolsJSON, resultsJSON, upd.FinalResponse,
		upd.PromptTokens, upd.CompletionTokens, string(upd.Status))
	if err != nil {
		return fmt.Errorf("update delegation entry %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundWrap(pgx.ErrNoRows, "update delegation entry %d", id)
	}
	return nil
}

// Get returns the entry by ID.
func (s *DelegationStore) Get(ctx context.Context, id int64) (*delegation.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, correlation_id, source_agent, target_agent, request_text, incident_id,
		        started_at, completed_at, duration_ms, tools_called, tool_results,
		        prompt_tokens, completion_tokens, total_tokens, final_response, status, created_at
		 FROM delegation_logs WHERE id = $1`, id)

	e, err := scanEntry(row)
	if err != nil {
		return nil, notFoundWrap(err, "get delegation entry %d", id)
	}
	return e, nil
}

// FindRecent returns the most recent PENDING or COMPLETED entry targeting
// targetAgent for the incident within the window. Failed, timed-out, and
// failed-over entries do not count: the incident still needs that agent.
func (s *DelegationStore) FindRecent(ctx context.Context, incidentID, targetAgent string, window time.Duration) (*delegation.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, correlation_id, source_agent, target_agent, request_text, incident_id,
		        started_at, completed_at, duration_ms, tools_called, tool_results,
		        prompt_tokens, completion_tokens, total_tokens, final_response, status, created_at
		 FROM delegation_logs
		 WHERE incident_id = $1 AND target_agent = $2
		   AND status IN ('PENDING', 'COMPLETED')
		   AND created_at > now() - make_interval(secs => $3)
		 ORDER BY created_at DESC
		 LIMIT 1`,
		incidentID, targetAgent, window.Seconds())

	e, err := scanEntry(row)
	if err != nil {
		return nil, notFoundWrap(err, "find recent delegation for incident %s", incidentID)
	}
	return e, nil
}

// PurgeOlderThan deletes entries created before the cutoff.
func (s *DelegationStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM delegation_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge delegation entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(row scannable) (*delegation.Entry, error) {
	var e delegation.Entry
	var toolsJSON, resultsJSON []byte
	err := row.Scan(
		&e.ID, &e.CorrelationID, &e.SourceAgent, &e.TargetAgent, &e.RequestText, &e.IncidentID,
		&e.StartedAt, &e.CompletedAt, &e.DurationMS, &toolsJSON, &resultsJSON,
		&e.PromptTokens, &e.CompletionTokens, &e.TotalTokens, &e.FinalResponse, &e.Status, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if toolsJSON != nil {
		if err := json.Unmarshal(toolsJSON, &e.ToolsCalled); err != nil {
			return nil, fmt.Errorf("unmarshal tools_called: %w", err)
		}
	}
	if resultsJSON != nil {
		if err := json.Unmarshal(resultsJSON, &e.ToolResults); err != nil {
			return nil, fmt.Errorf("unmarshal tool_results: %w", err)
		}
	}
	return &e, nil
}

// marshalTelemetry encodes the tool slices as JSONB values, with nil slices
// stored as empty arrays.
func marshalTelemetry(tools []string, results []delegation.ToolResult) ([]byte, []byte, error) {
	if tools == nil {
		tools = []string{}
	}
	if results == nil {
		results = []delegation.ToolResult{}
	}
	toolsJSON, err := json.Marshal(tools)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal tools_called: %w", err)
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal tool_results: %w", err)
	}
	return toolsJSON, resultsJSON, nil
}
