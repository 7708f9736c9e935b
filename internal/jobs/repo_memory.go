package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store with the same claim and ownership
// semantics as PostgresStore. Useful for tests and local runs.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func cloneJob(j *Job) Job {
	out := *j
	out.LeadSnapshot = append([]Lead(nil), j.LeadSnapshot...)
	if j.ScheduledStartAt != nil {
		t := *j.ScheduledStartAt
		out.ScheduledStartAt = &t
	}
	if j.CurrentLead != nil {
		l := *j.CurrentLead
		out.CurrentLead = &l
	}
	if j.CurrentConversationID != nil {
		out.CurrentConversationID = strPtr(*j.CurrentConversationID)
	}
	if j.WorkerID != nil {
		out.WorkerID = strPtr(*j.WorkerID)
	}
	if j.Error != nil {
		out.Error = strPtr(*j.Error)
	}
	return out
}

func (s *MemoryStore) Create(ctx context.Context, j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; ok {
		return fmt.Errorf("%w: duplicate job id %q", ErrInvalidArgument, j.ID)
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = j.CreatedAt
	}
	c := cloneJob(&j)
	s.jobs[j.ID] = &c
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return cloneJob(j), nil
}

// claimFirst picks the first eligible job by the given ordering and marks it running.
func (s *MemoryStore) claimFirst(workerID string, now time.Time, eligible func(*Job) bool, less func(a, b *Job) bool) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*Job
	for _, j := range s.jobs {
		if eligible(j) {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return Job{}, false
	}
	sort.Slice(candidates, func(i, k int) bool {
		a, b := candidates[i], candidates[k]
		if less(a, b) {
			return true
		}
		if less(b, a) {
			return false
		}
		return a.ID < b.ID
	})
	j := candidates[0]
	j.Status = StatusRunning
	j.WorkerID = strPtr(workerID)
	j.UpdatedAt = now
	return cloneJob(j), true
}

func (s *MemoryStore) ClaimPending(ctx context.Context, workerID string, now time.Time) (Job, bool, error) {
	j, ok := s.claimFirst(workerID, now,
		func(j *Job) bool { return j.Status == StatusPending },
		func(a, b *Job) bool { return a.CreatedAt.Before(b.CreatedAt) },
	)
	return j, ok, nil
}

func (s *MemoryStore) ClaimScheduled(ctx context.Context, workerID string, now time.Time) (Job, bool, error) {
	j, ok := s.claimFirst(workerID, now,
		func(j *Job) bool {
			return j.Status == StatusScheduled && j.ScheduledStartAt != nil && !j.ScheduledStartAt.After(now)
		},
		func(a, b *Job) bool { return a.ScheduledStartAt.Before(*b.ScheduledStartAt) },
	)
	return j, ok, nil
}

func (s *MemoryStore) ClaimStale(ctx context.Context, workerID string, now, staleBefore time.Time) (Job, bool, error) {
	j, ok := s.claimFirst(workerID, now,
		func(j *Job) bool { return j.Status == StatusRunning && j.UpdatedAt.Before(staleBefore) },
		func(a, b *Job) bool { return a.UpdatedAt.Before(b.UpdatedAt) },
	)
	return j, ok, nil
}

// owned applies fn to the job if workerID still holds it.
func (s *MemoryStore) owned(id, workerID string, fn func(j *Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != StatusRunning || j.WorkerID == nil || *j.WorkerID != workerID {
		return ErrNotOwner
	}
	fn(j)
	return nil
}

func (s *MemoryStore) Heartbeat(ctx context.Context, id, workerID string, now time.Time) error {
	return s.owned(id, workerID, func(j *Job) { j.UpdatedAt = now })
}

func (s *MemoryStore) BeginLead(ctx context.Context, id, workerID string, index int, lead Lead, now time.Time) error {
	return s.owned(id, workerID, func(j *Job) {
		l := lead
		j.CurrentIndex = index
		j.CurrentLead = &l
		j.CurrentConversationID = nil
		j.UpdatedAt = now
	})
}

func (s *MemoryStore) RecordInitiated(ctx context.Context, id, workerID, conversationID string, now time.Time) error {
	return s.owned(id, workerID, func(j *Job) {
		if j.Initiated < j.TotalLeads {
			j.Initiated++
		}
		j.CurrentConversationID = strPtr(conversationID)
		j.UpdatedAt = now
	})
}

func (s *MemoryStore) RecordOutcome(ctx context.Context, id, workerID string, index int, outcome Outcome, errMsg string, now time.Time) error {
	if outcome != OutcomeCompleted && outcome != OutcomeFailed {
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidArgument, outcome)
	}
	return s.owned(id, workerID, func(j *Job) {
		if outcome == OutcomeCompleted {
			j.Completed++
		} else {
			j.Failed++
		}
		if errMsg != "" {
			j.Error = strPtr(errMsg)
		}
		j.CurrentIndex = index + 1
		j.CurrentLead = nil
		j.CurrentConversationID = nil
		j.UpdatedAt = now
	})
}

func (s *MemoryStore) Reschedule(ctx context.Context, id, workerID string, now time.Time) error {
	return s.owned(id, workerID, func(j *Job) {
		j.Status = StatusScheduled
		j.WorkerID = nil
		j.CurrentLead = nil
		j.CurrentConversationID = nil
		j.UpdatedAt = now
	})
}

func (s *MemoryStore) Finalize(ctx context.Context, id, workerID string, status Status, now time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %q is not terminal", ErrInvalidArgument, status)
	}
	return s.owned(id, workerID, func(j *Job) {
		j.Status = status
		j.WorkerID = nil
		j.CurrentLead = nil
		j.CurrentConversationID = nil
		j.UpdatedAt = now
	})
}

// SetUpdatedAt backdates a job's heartbeat. Tests use it to simulate a dead worker.
func (s *MemoryStore) SetUpdatedAt(id string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.UpdatedAt = t
	}
}
