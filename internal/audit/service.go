package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records job lifecycle transitions for internal ops.
//
// Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.JobID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogClaimed records a claim. reclaimed marks a repossession from a stale worker.
func (s *Service) LogClaimed(ctx context.Context, jobID, userID, workerID string, reclaimed bool, resumeIndex int) error {
	typ, msg := EventTypeJobClaimed, "job claimed"
	if reclaimed {
		typ, msg = EventTypeJobReclaimed, fmt.Sprintf("stale job reclaimed at index %d", resumeIndex)
	}
	return s.Append(ctx, Event{
		JobID:    jobID,
		Type:     typ,
		UserID:   userID,
		WorkerID: workerID,
		Message:  msg,
	})
}

func (s *Service) LogRescheduled(ctx context.Context, jobID, userID, workerID string, startAt time.Time) error {
	return s.Append(ctx, Event{
		JobID:    jobID,
		Type:     EventTypeJobRescheduled,
		UserID:   userID,
		WorkerID: workerID,
		Message:  "claimed before scheduled start; reverted",
		Metadata: fmt.Sprintf(`{"scheduled_start_at":%q}`, startAt.UTC().Format(time.RFC3339)),
	})
}

func (s *Service) LogFinalized(ctx context.Context, jobID, userID, workerID, status string, initiated, completed, failed int) error {
	return s.Append(ctx, Event{
		JobID:    jobID,
		Type:     EventTypeJobFinalized,
		UserID:   userID,
		WorkerID: workerID,
		Message:  "job finalized as " + status,
		Metadata: fmt.Sprintf(`{"status":%q,"initiated":%d,"completed":%d,"failed":%d}`, status, initiated, completed, failed),
	})
}

func (s *Service) LogOwnershipLost(ctx context.Context, jobID, userID, workerID string, index int) error {
	return s.Append(ctx, Event{
		JobID:    jobID,
		Type:     EventTypeOwnershipLost,
		UserID:   userID,
		WorkerID: workerID,
		Message:  fmt.Sprintf("ownership lost at index %d", index),
	})
}
