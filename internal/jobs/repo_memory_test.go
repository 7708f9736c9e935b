package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func seedJob(t *testing.T, s *MemoryStore, id string, status Status, created time.Time, leads int) {
	t.Helper()
	snapshot := make([]Lead, leads)
	for i := range snapshot {
		snapshot[i] = Lead{ID: id + "-lead", Phone: "5551234567"}
	}
	if err := s.Create(context.Background(), Job{
		ID:           id,
		UserID:       "u1",
		Status:       status,
		LeadSnapshot: snapshot,
		TotalLeads:   leads,
		CreatedAt:    created,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
}

func TestMemoryStore_ConcurrentClaimHasOneWinner(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	seedJob(t, s, "j1", StatusPending, now, 1)

	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []string
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			worker := "w" + string(rune('a'+i))
			_, ok, err := s.ClaimPending(context.Background(), worker, now)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins = append(wins, worker)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if len(wins) != 1 {
		t.Fatalf("expected exactly one winner, got %v", wins)
	}
	j, _ := s.Get(context.Background(), "j1")
	if j.Status != StatusRunning || j.WorkerID == nil || *j.WorkerID != wins[0] {
		t.Fatalf("job not owned by winner: %+v", j)
	}
}

func TestMemoryStore_ClaimPendingOldestFirst(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	seedJob(t, s, "newer", StatusPending, base.Add(time.Minute), 1)
	seedJob(t, s, "older", StatusPending, base, 1)

	j, ok, _ := s.ClaimPending(context.Background(), "w", base.Add(time.Hour))
	if !ok || j.ID != "older" {
		t.Fatalf("expected older job claimed first, got %q ok=%v", j.ID, ok)
	}
}

func TestMemoryStore_ClaimScheduledRespectsStartTime(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	if err := s.Create(context.Background(), Job{
		ID: "j1", UserID: "u1", Status: StatusScheduled, ScheduledStartAt: &future,
		LeadSnapshot: []Lead{{ID: "l", Phone: "1"}}, TotalLeads: 1, CreatedAt: now,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, ok, _ := s.ClaimScheduled(context.Background(), "w", now); ok {
		t.Fatalf("future job must not be claimable")
	}
	if _, ok, _ := s.ClaimScheduled(context.Background(), "w", future); !ok {
		t.Fatalf("job due now must be claimable")
	}
}

func TestMemoryStore_StaleReclaimTransfersOwnership(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	seedJob(t, s, "j1", StatusPending, now, 3)

	if _, ok, _ := s.ClaimPending(ctx, "dead", now); !ok {
		t.Fatalf("expected claim")
	}
	if err := s.BeginLead(ctx, "j1", "dead", 1, Lead{ID: "l1"}, now); err != nil {
		t.Fatalf("begin lead: %v", err)
	}

	// Fresh heartbeat: not stale yet.
	if _, ok, _ := s.ClaimStale(ctx, "alive", now.Add(10*time.Second), now.Add(-20*time.Second)); ok {
		t.Fatalf("live job must not be reclaimed")
	}

	later := now.Add(time.Minute)
	j, ok, _ := s.ClaimStale(ctx, "alive", later, later.Add(-30*time.Second))
	if !ok {
		t.Fatalf("expected stale reclaim")
	}
	if j.CurrentIndex != 1 {
		t.Fatalf("expected resume at index 1, got %d", j.CurrentIndex)
	}

	if err := s.Heartbeat(ctx, "j1", "dead", later); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner for previous holder, got %v", err)
	}
	if err := s.Heartbeat(ctx, "j1", "alive", later); err != nil {
		t.Fatalf("new owner heartbeat: %v", err)
	}
}

func TestMemoryStore_TerminalJobsAreNotMutated(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	seedJob(t, s, "j1", StatusPending, now, 1)
	s.ClaimPending(ctx, "w", now)

	if err := s.Finalize(ctx, "j1", "w", StatusSucceeded, now); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := s.RecordOutcome(ctx, "j1", "w", 0, OutcomeFailed, "late", now); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner after finalize, got %v", err)
	}
	if _, ok, _ := s.ClaimStale(ctx, "other", now.Add(time.Hour), now.Add(time.Hour)); ok {
		t.Fatalf("terminal job must never be reclaimed")
	}
	j, _ := s.Get(ctx, "j1")
	if j.WorkerID != nil || j.Failed != 0 {
		t.Fatalf("unexpected job state: %+v", j)
	}
}

func TestMemoryStore_RecordOutcomeAdvancesCursor(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	seedJob(t, s, "j1", StatusPending, now, 2)
	s.ClaimPending(ctx, "w", now)

	_ = s.BeginLead(ctx, "j1", "w", 0, Lead{ID: "a"}, now)
	_ = s.RecordInitiated(ctx, "j1", "w", "conv-1", now)
	if err := s.RecordOutcome(ctx, "j1", "w", 0, OutcomeCompleted, "", now); err != nil {
		t.Fatalf("record outcome: %v", err)
	}

	j, _ := s.Get(ctx, "j1")
	if j.CurrentIndex != 1 || j.CurrentLead != nil || j.CurrentConversationID != nil {
		t.Fatalf("cursor not advanced/cleared: %+v", j)
	}
	if j.Initiated != 1 || j.Completed != 1 || j.Failed != 0 {
		t.Fatalf("unexpected counters: %+v", j)
	}
}
