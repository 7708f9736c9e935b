//go:build integration

package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Run with: TEST_POSTGRES_DSN=postgres://... go test -tags integration ./internal/jobs/
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	schema, err := os.ReadFile("../../migrations/0001_call_queue.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, string(schema)); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := db.ExecContext(ctx, "TRUNCATE call_queue_jobs"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return db
}

func seedPostgresJob(t *testing.T, s *PostgresStore, id string, status Status, created time.Time, scheduledAt *time.Time) {
	t.Helper()
	if err := s.Create(context.Background(), Job{
		ID:               id,
		UserID:           "u1",
		Status:           status,
		ScheduledStartAt: scheduledAt,
		LeadSnapshot:     []Lead{{ID: id + "-lead", Phone: "5551234567"}},
		TotalLeads:       1,
		CreatedAt:        created,
	}); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
}

func TestPostgresStore_ConcurrentClaimHasOneWinner(t *testing.T) {
	s := NewPostgresStore(openTestDB(t))
	now := time.Now().UTC().Truncate(time.Microsecond)
	seedPostgresJob(t, s, "pg-j1", StatusPending, now, nil)

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
			worker := fmt.Sprintf("w%d", i)
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
	j, err := s.Get(context.Background(), "pg-j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if j.Status != StatusRunning || j.WorkerID == nil || *j.WorkerID != wins[0] {
		t.Fatalf("job not owned by winner: %+v", j)
	}
}

func TestPostgresStore_ClaimTiersAndOwnerGate(t *testing.T) {
	ctx := context.Background()
	s := NewPostgresStore(openTestDB(t))
	now := time.Now().UTC().Truncate(time.Microsecond)
	future := now.Add(time.Hour)
	past := now.Add(-time.Minute)

	seedPostgresJob(t, s, "pg-later", StatusScheduled, now, &future)
	seedPostgresJob(t, s, "pg-due", StatusScheduled, now, &past)

	j, ok, err := s.ClaimScheduled(ctx, "w1", now)
	if err != nil || !ok || j.ID != "pg-due" {
		t.Fatalf("expected due job, got %q ok=%v err=%v", j.ID, ok, err)
	}
	if _, ok, _ := s.ClaimScheduled(ctx, "w1", now); ok {
		t.Fatalf("future job must not be claimed")
	}

	// A live job is not stale.
	if _, ok, _ := s.ClaimStale(ctx, "w2", now, now.Add(-30*time.Second)); ok {
		t.Fatalf("fresh running job must not be reclaimed")
	}
	if err := s.Heartbeat(ctx, "pg-due", "w2", now); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner for non-owner heartbeat, got %v", err)
	}

	later := now.Add(time.Minute)
	j, ok, err = s.ClaimStale(ctx, "w2", later, later.Add(-30*time.Second))
	if err != nil || !ok || j.ID != "pg-due" || *j.WorkerID != "w2" {
		t.Fatalf("expected stale reclaim by w2, got %+v ok=%v err=%v", j, ok, err)
	}
	if err := s.BeginLead(ctx, "pg-due", "w1", 0, j.LeadSnapshot[0], later); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("previous owner must be locked out, got %v", err)
	}

	if err := s.BeginLead(ctx, "pg-due", "w2", 0, j.LeadSnapshot[0], later); err != nil {
		t.Fatalf("begin lead: %v", err)
	}
	if err := s.RecordInitiated(ctx, "pg-due", "w2", "conv-1", later); err != nil {
		t.Fatalf("record initiated: %v", err)
	}
	if err := s.RecordOutcome(ctx, "pg-due", "w2", 0, OutcomeCompleted, "", later); err != nil {
		t.Fatalf("record outcome: %v", err)
	}
	if err := s.Finalize(ctx, "pg-due", "w2", StatusSucceeded, later); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	got, err := s.Get(ctx, "pg-due")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusSucceeded || got.WorkerID != nil || got.Initiated != 1 || got.Completed != 1 || got.CurrentIndex != 1 {
		t.Fatalf("unexpected final row: %+v", got)
	}
}
