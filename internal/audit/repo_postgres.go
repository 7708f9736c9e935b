package audit

import (
	"context"
	"database/sql"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO job_audit_events (id, job_id, type, user_id, worker_id, message, metadata, created_at)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, NULLIF($7, '')::jsonb, $8)
`
	_, err := r.db.ExecContext(ctx, q, e.ID, e.JobID, string(e.Type), e.UserID, e.WorkerID, e.Message, e.Metadata, e.CreatedAt)
	return err
}
