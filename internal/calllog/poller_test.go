package calllog

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPoller_ReturnsWhenStatusLeavesPlaceholder(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	_ = repo.InsertIfAbsent(ctx, Entry{ConversationID: "c1", Status: StatusStarted})

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = repo.Upsert(ctx, Entry{ConversationID: "c1", Status: "done"})
	}()

	status, err := NewPoller(repo, 5*time.Millisecond).Poll(ctx, "c1", time.Second)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if status != "done" {
		t.Fatalf("expected done, got %q", status)
	}
}

func TestPoller_WaitsForMissingRow(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	go func() {
		time.Sleep(30 * time.Millisecond)
		ended := time.Now()
		_ = repo.Upsert(ctx, Entry{ConversationID: "c1", EndedAt: &ended})
	}()

	status, err := NewPoller(repo, 5*time.Millisecond).Poll(ctx, "c1", time.Second)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if status != StatusEnded {
		t.Fatalf("expected %q, got %q", StatusEnded, status)
	}
}

func TestPoller_TimesOut(t *testing.T) {
	repo := NewMemoryRepo()
	_ = repo.InsertIfAbsent(context.Background(), Entry{ConversationID: "c1", Status: StatusStarted})

	_, err := NewPoller(repo, 5*time.Millisecond).Poll(context.Background(), "c1", 40*time.Millisecond)
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
	if repo.Writes() != 1 {
		t.Fatalf("poller must not write, writes=%d", repo.Writes())
	}
}

func TestPoller_ParentCancellation(t *testing.T) {
	repo := NewMemoryRepo()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPoller(repo, 5*time.Millisecond).Poll(ctx, "c1", time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
