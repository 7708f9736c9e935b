package audit

import "time"

// Event is an immutable, append-only record of a job lifecycle transition.
//
// Invariants:
// - Events are never updated or deleted.
// - job_id is required.
// - Audit is best-effort; do not block job processing on audit failures.
//
// Storage (Postgres):
// - Table job_audit_events with an INSERT-only policy.

type Event struct {
	ID    string `json:"id" db:"id"`
	JobID string `json:"job_id" db:"job_id"`

	// Type indicates the lifecycle category of the audit record.
	Type EventType `json:"type" db:"type"`

	UserID   string `json:"user_id,omitempty" db:"user_id"`
	WorkerID string `json:"worker_id,omitempty" db:"worker_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeJobClaimed     EventType = "job_claimed"
	EventTypeJobReclaimed   EventType = "job_reclaimed"
	EventTypeJobRescheduled EventType = "job_rescheduled"
	EventTypeJobFinalized   EventType = "job_finalized"
	EventTypeOwnershipLost  EventType = "job_ownership_lost"
)
