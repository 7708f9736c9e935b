package users

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests.
type MemoryRepo struct {
	mu       sync.Mutex
	profiles map[string]Profile
}

func NewMemoryRepo(profiles ...Profile) *MemoryRepo {
	r := &MemoryRepo{profiles: make(map[string]Profile)}
	for _, p := range profiles {
		r.profiles[p.ID] = p
	}
	return r
}

func (r *MemoryRepo) Get(ctx context.Context, userID string) (Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (r *MemoryRepo) SetPhoneNumber(ctx context.Context, userID, phoneNumber string) error {
	return r.update(userID, func(p *Profile) { p.PhoneNumber = phoneNumber })
}

func (r *MemoryRepo) SetAgentPhoneNumberID(ctx context.Context, userID, bindingID string) error {
	return r.update(userID, func(p *Profile) { p.AgentPhoneNumberID = bindingID })
}

func (r *MemoryRepo) update(userID string, fn func(p *Profile)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return ErrNotFound
	}
	fn(&p)
	r.profiles[userID] = p
	return nil
}
