package calllog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// NOTE: PostgresRepo assumes the call_logs table from migrations/0001_call_queue.sql
// with a primary key on conversation_id. transcript, analysis, metadata and
// dynamic_variables are JSONB.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Get(ctx context.Context, conversationID string) (Entry, error) {
	const q = `
SELECT conversation_id, COALESCE(user_id, ''), COALESCE(lead_id, ''), COALESCE(status, ''),
       started_at, ended_at, duration_seconds, cost, transcript, analysis, metadata, dynamic_variables,
       created_at, updated_at
FROM call_logs
WHERE conversation_id = $1
`
	var (
		e          Entry
		started    sql.NullTime
		ended      sql.NullTime
		duration   sql.NullInt64
		cost       sql.NullFloat64
		transcript []byte
		analysis   []byte
		metadata   []byte
		dynVars    []byte
	)
	if err := r.db.QueryRowContext(ctx, q, conversationID).Scan(
		&e.ConversationID,
		&e.UserID,
		&e.LeadID,
		&e.Status,
		&started,
		&ended,
		&duration,
		&cost,
		&transcript,
		&analysis,
		&metadata,
		&dynVars,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	if started.Valid {
		t := started.Time
		e.StartedAt = &t
	}
	if ended.Valid {
		t := ended.Time
		e.EndedAt = &t
	}
	if duration.Valid {
		d := int(duration.Int64)
		e.DurationSeconds = &d
	}
	if cost.Valid {
		c := cost.Float64
		e.Cost = &c
	}
	if len(transcript) > 0 {
		e.Transcript = json.RawMessage(transcript)
	}
	if len(analysis) > 0 {
		e.Analysis = json.RawMessage(analysis)
	}
	if err := decodeObject(metadata, &e.Metadata); err != nil {
		return Entry{}, fmt.Errorf("decode metadata: %w", err)
	}
	if err := decodeObject(dynVars, &e.DynamicVariables); err != nil {
		return Entry{}, fmt.Errorf("decode dynamic_variables: %w", err)
	}
	return e, nil
}

func (r *PostgresRepo) InsertIfAbsent(ctx context.Context, e Entry) error {
	// Existing keys win on conflict: the excluded map is on the left of ||.
	const q = `
INSERT INTO call_logs (conversation_id, user_id, lead_id, status, started_at, ended_at, duration_seconds, cost,
                       transcript, analysis, metadata, dynamic_variables, created_at, updated_at)
VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8,
        $9::jsonb, $10::jsonb, $11::jsonb, $12::jsonb, $13, $14)
ON CONFLICT (conversation_id) DO UPDATE SET
  metadata = COALESCE(EXCLUDED.metadata, '{}'::jsonb) || COALESCE(call_logs.metadata, '{}'::jsonb),
  dynamic_variables = COALESCE(EXCLUDED.dynamic_variables, '{}'::jsonb) || COALESCE(call_logs.dynamic_variables, '{}'::jsonb)
`
	args, err := entryArgs(e)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	return err
}

func (r *PostgresRepo) Upsert(ctx context.Context, e Entry) error {
	const q = `
INSERT INTO call_logs (conversation_id, user_id, lead_id, status, started_at, ended_at, duration_seconds, cost,
                       transcript, analysis, metadata, dynamic_variables, created_at, updated_at)
VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8,
        $9::jsonb, $10::jsonb, $11::jsonb, $12::jsonb, $13, $14)
ON CONFLICT (conversation_id) DO UPDATE SET
  user_id = COALESCE(EXCLUDED.user_id, call_logs.user_id),
  lead_id = COALESCE(EXCLUDED.lead_id, call_logs.lead_id),
  status = CASE
    WHEN EXCLUDED.status IS NULL THEN call_logs.status
    WHEN call_logs.ended_at IS NOT NULL AND EXCLUDED.ended_at IS NULL THEN call_logs.status
    ELSE EXCLUDED.status
  END,
  started_at = COALESCE(EXCLUDED.started_at, call_logs.started_at),
  ended_at = COALESCE(call_logs.ended_at, EXCLUDED.ended_at),
  duration_seconds = COALESCE(EXCLUDED.duration_seconds, call_logs.duration_seconds),
  cost = COALESCE(EXCLUDED.cost, call_logs.cost),
  transcript = COALESCE(EXCLUDED.transcript, call_logs.transcript),
  analysis = COALESCE(EXCLUDED.analysis, call_logs.analysis),
  metadata = COALESCE(call_logs.metadata, '{}'::jsonb) || COALESCE(EXCLUDED.metadata, '{}'::jsonb),
  dynamic_variables = COALESCE(call_logs.dynamic_variables, '{}'::jsonb) || COALESCE(EXCLUDED.dynamic_variables, '{}'::jsonb),
  updated_at = EXCLUDED.updated_at
`
	args, err := entryArgs(e)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	return err
}

func entryArgs(e Entry) ([]any, error) {
	metadata, err := encodeObject(e.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	dynVars, err := encodeObject(e.DynamicVariables)
	if err != nil {
		return nil, fmt.Errorf("encode dynamic_variables: %w", err)
	}
	var started, ended sql.NullTime
	if e.StartedAt != nil {
		started = sql.NullTime{Time: *e.StartedAt, Valid: true}
	}
	if e.EndedAt != nil {
		ended = sql.NullTime{Time: *e.EndedAt, Valid: true}
	}
	var duration sql.NullInt64
	if e.DurationSeconds != nil {
		duration = sql.NullInt64{Int64: int64(*e.DurationSeconds), Valid: true}
	}
	var cost sql.NullFloat64
	if e.Cost != nil {
		cost = sql.NullFloat64{Float64: *e.Cost, Valid: true}
	}
	return []any{
		e.ConversationID,
		e.UserID,
		e.LeadID,
		e.Status,
		started,
		ended,
		duration,
		cost,
		rawOrNull(e.Transcript),
		rawOrNull(e.Analysis),
		metadata,
		dynVars,
		e.CreatedAt,
		e.UpdatedAt,
	}, nil
}

func rawOrNull(b json.RawMessage) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func encodeObject(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeObject(b []byte, dst *map[string]any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}
