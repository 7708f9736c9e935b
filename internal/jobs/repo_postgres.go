package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// NOTE: PostgresStore assumes the call_queue_jobs table from migrations/0001_call_queue.sql.
// lead_snapshot and current_lead are JSONB. The claim and owner-gate queries are
// exercised against a live database by the integration-tagged tests.

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const jobColumns = `id, user_id, status, scheduled_start_at, lead_snapshot, total_leads,
initiated, completed, failed, current_index, current_lead, current_conversation_id,
worker_id, error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var (
		j           Job
		status      string
		scheduledAt sql.NullTime
		snapshot    []byte
		currentLead []byte
		convID      sql.NullString
		workerID    sql.NullString
		errMsg      sql.NullString
	)
	if err := row.Scan(
		&j.ID,
		&j.UserID,
		&status,
		&scheduledAt,
		&snapshot,
		&j.TotalLeads,
		&j.Initiated,
		&j.Completed,
		&j.Failed,
		&j.CurrentIndex,
		&currentLead,
		&convID,
		&workerID,
		&errMsg,
		&j.CreatedAt,
		&j.UpdatedAt,
	); err != nil {
		return Job{}, err
	}
	j.Status = Status(status)
	if scheduledAt.Valid {
		t := scheduledAt.Time
		j.ScheduledStartAt = &t
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &j.LeadSnapshot); err != nil {
			return Job{}, fmt.Errorf("decode lead_snapshot: %w", err)
		}
	}
	if len(currentLead) > 0 {
		var l Lead
		if err := json.Unmarshal(currentLead, &l); err != nil {
			return Job{}, fmt.Errorf("decode current_lead: %w", err)
		}
		j.CurrentLead = &l
	}
	if convID.Valid {
		j.CurrentConversationID = &convID.String
	}
	if workerID.Valid {
		j.WorkerID = &workerID.String
	}
	if errMsg.Valid {
		j.Error = &errMsg.String
	}
	return j, nil
}

func (s *PostgresStore) Create(ctx context.Context, j Job) error {
	snapshot, err := json.Marshal(j.LeadSnapshot)
	if err != nil {
		return fmt.Errorf("encode lead_snapshot: %w", err)
	}
	const q = `
INSERT INTO call_queue_jobs (id, user_id, status, scheduled_start_at, lead_snapshot, total_leads, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $7)
`
	var scheduledAt sql.NullTime
	if j.ScheduledStartAt != nil {
		scheduledAt = sql.NullTime{Time: *j.ScheduledStartAt, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, q, j.ID, j.UserID, string(j.Status), scheduledAt, string(snapshot), j.TotalLeads, j.CreatedAt)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Job, error) {
	q := `SELECT ` + jobColumns + ` FROM call_queue_jobs WHERE id = $1`
	j, err := scanJob(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, err
	}
	return j, nil
}

// claim runs one conditional UPDATE. The inner SELECT skips rows locked by a
// concurrent claimer; the outer status check makes the write a compare-and-swap.
func (s *PostgresStore) claim(ctx context.Context, expected Status, where, orderBy string, args ...any) (Job, bool, error) {
	q := `
UPDATE call_queue_jobs
SET status = 'running', worker_id = $1, updated_at = $2
WHERE id = (
  SELECT id FROM call_queue_jobs
  WHERE status = '` + string(expected) + `' ` + where + `
  ORDER BY ` + orderBy + `
  LIMIT 1
  FOR UPDATE SKIP LOCKED
) AND status = '` + string(expected) + `'
RETURNING ` + jobColumns
	j, err := scanJob(s.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, false, nil
		}
		return Job{}, false, err
	}
	return j, true, nil
}

func (s *PostgresStore) ClaimPending(ctx context.Context, workerID string, now time.Time) (Job, bool, error) {
	return s.claim(ctx, StatusPending, "", "created_at, id", workerID, now)
}

func (s *PostgresStore) ClaimScheduled(ctx context.Context, workerID string, now time.Time) (Job, bool, error) {
	return s.claim(ctx, StatusScheduled, "AND scheduled_start_at <= $2", "scheduled_start_at, id", workerID, now)
}

func (s *PostgresStore) ClaimStale(ctx context.Context, workerID string, now, staleBefore time.Time) (Job, bool, error) {
	return s.claim(ctx, StatusRunning, "AND updated_at < $3", "updated_at, id", workerID, now, staleBefore)
}

// exec runs an owner-gated update. $1 is the job id, $2 the worker id.
func (s *PostgresStore) exec(ctx context.Context, set string, args ...any) error {
	q := `
UPDATE call_queue_jobs
SET ` + set + `
WHERE id = $1 AND worker_id = $2 AND status = 'running'
`
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}

func (s *PostgresStore) Heartbeat(ctx context.Context, id, workerID string, now time.Time) error {
	return s.exec(ctx, "updated_at = $3", id, workerID, now)
}

func (s *PostgresStore) BeginLead(ctx context.Context, id, workerID string, index int, lead Lead, now time.Time) error {
	b, err := json.Marshal(lead)
	if err != nil {
		return fmt.Errorf("encode current_lead: %w", err)
	}
	return s.exec(ctx,
		"current_index = $3, current_lead = $4::jsonb, current_conversation_id = NULL, updated_at = $5",
		id, workerID, index, string(b), now)
}

func (s *PostgresStore) RecordInitiated(ctx context.Context, id, workerID, conversationID string, now time.Time) error {
	return s.exec(ctx,
		"initiated = LEAST(initiated + 1, total_leads), current_conversation_id = $3, updated_at = $4",
		id, workerID, conversationID, now)
}

func (s *PostgresStore) RecordOutcome(ctx context.Context, id, workerID string, index int, outcome Outcome, errMsg string, now time.Time) error {
	var set string
	switch outcome {
	case OutcomeCompleted:
		set = "completed = completed + 1"
	case OutcomeFailed:
		set = "failed = failed + 1"
	default:
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidArgument, outcome)
	}
	var e sql.NullString
	if errMsg != "" {
		e = sql.NullString{String: errMsg, Valid: true}
	}
	return s.exec(ctx,
		set+", error = COALESCE($4, error), current_index = $3, current_lead = NULL, current_conversation_id = NULL, updated_at = $5",
		id, workerID, index+1, e, now)
}

func (s *PostgresStore) Reschedule(ctx context.Context, id, workerID string, now time.Time) error {
	return s.exec(ctx,
		"status = 'scheduled', worker_id = NULL, current_lead = NULL, current_conversation_id = NULL, updated_at = $3",
		id, workerID, now)
}

func (s *PostgresStore) Finalize(ctx context.Context, id, workerID string, status Status, now time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %q is not terminal", ErrInvalidArgument, status)
	}
	return s.exec(ctx,
		"status = $3, worker_id = NULL, current_lead = NULL, current_conversation_id = NULL, updated_at = $4",
		id, workerID, string(status), now)
}
