package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service is the enqueue boundary. It only ever creates jobs; status
// transitions after creation belong to the worker.
type Service struct {
	store Store
	clock func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, clock: time.Now}
}

type EnqueueRequest struct {
	UserID   string
	Leads    []Lead
	Schedule Schedule
}

type EnqueueResult struct {
	JobID      string `json:"job_id"`
	Status     Status `json:"status"`
	TotalLeads int    `json:"total_leads"`
}

func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueResult, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return EnqueueResult{}, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	if len(req.Leads) == 0 {
		return EnqueueResult{}, fmt.Errorf("%w: at least one lead is required", ErrInvalidArgument)
	}
	at, err := ParseSchedule(req.Schedule)
	if err != nil {
		return EnqueueResult{}, err
	}

	snapshot := make([]Lead, len(req.Leads))
	for i, l := range req.Leads {
		l.Phone = strings.TrimSpace(l.Phone)
		if l.Phone == "" {
			return EnqueueResult{}, fmt.Errorf("%w: lead %d has no phone", ErrInvalidArgument, i)
		}
		if strings.TrimSpace(l.ID) == "" {
			l.ID = uuid.NewString()
		}
		if l.FullName == "" {
			l.FullName = strings.TrimSpace(l.FirstName + " " + l.LastName)
		}
		snapshot[i] = l
	}

	now := s.clock().UTC()
	status := StatusPending
	if at != nil && at.After(now) {
		status = StatusScheduled
	} else {
		at = nil
	}

	j := Job{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		Status:           status,
		ScheduledStartAt: at,
		LeadSnapshot:     snapshot,
		TotalLeads:       len(snapshot),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.Create(ctx, j); err != nil {
		return EnqueueResult{}, fmt.Errorf("create job: %w", err)
	}
	return EnqueueResult{JobID: j.ID, Status: status, TotalLeads: j.TotalLeads}, nil
}

func (s *Service) Get(ctx context.Context, id string) (Job, error) {
	if strings.TrimSpace(id) == "" {
		return Job{}, ErrNotFound
	}
	return s.store.Get(ctx, id)
}
