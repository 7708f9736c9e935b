package jobs

import (
	"context"
	"time"
)

// Store is the persistence contract for call queue jobs.
//
// Claims are single conditional writes: at most one concurrent caller receives
// a given job. Every mutation after a claim is gated on the job still being
// running and owned by workerID; a mismatch returns ErrNotOwner.
type Store interface {
	Create(ctx context.Context, j Job) error
	Get(ctx context.Context, id string) (Job, error)

	// ClaimPending claims the oldest pending job by creation time.
	ClaimPending(ctx context.Context, workerID string, now time.Time) (Job, bool, error)
	// ClaimScheduled claims the earliest scheduled job whose start time has passed.
	ClaimScheduled(ctx context.Context, workerID string, now time.Time) (Job, bool, error)
	// ClaimStale repossesses a running job whose heartbeat is older than staleBefore.
	ClaimStale(ctx context.Context, workerID string, now, staleBefore time.Time) (Job, bool, error)

	Heartbeat(ctx context.Context, id, workerID string, now time.Time) error
	BeginLead(ctx context.Context, id, workerID string, index int, lead Lead, now time.Time) error
	RecordInitiated(ctx context.Context, id, workerID, conversationID string, now time.Time) error
	RecordOutcome(ctx context.Context, id, workerID string, index int, outcome Outcome, errMsg string, now time.Time) error
	Reschedule(ctx context.Context, id, workerID string, now time.Time) error
	Finalize(ctx context.Context, id, workerID string, status Status, now time.Time) error
}
