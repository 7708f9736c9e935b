package calllog

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests.
type MemoryRepo struct {
	mu      sync.Mutex
	entries map[string]Entry
	writes  int
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{entries: make(map[string]Entry)}
}

func (r *MemoryRepo) Get(ctx context.Context, conversationID string) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[conversationID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (r *MemoryRepo) InsertIfAbsent(ctx context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	if cur, ok := r.entries[e.ConversationID]; ok {
		r.entries[e.ConversationID] = fillGaps(cur, e)
		return nil
	}
	r.entries[e.ConversationID] = e
	return nil
}

func (r *MemoryRepo) Upsert(ctx context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	cur, ok := r.entries[e.ConversationID]
	if !ok {
		r.entries[e.ConversationID] = e
		return nil
	}
	r.entries[e.ConversationID] = Merge(cur, e)
	return nil
}

// Len returns the number of distinct conversations stored.
func (r *MemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Writes returns the number of write calls received.
func (r *MemoryRepo) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}
