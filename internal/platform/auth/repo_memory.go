package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryUserRepository keeps credentials in process; used with the memory
// store driver and in tests.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	byEmail map[string]*User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{byEmail: make(map[string]*User)}
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *MemoryUserRepository) Create(_ context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[u.Email]; ok {
		return ErrUserExists
	}
	cp := *u
	r.byEmail[u.Email] = &cp
	return nil
}

func (r *MemoryUserRepository) TouchSignIn(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byEmail {
		if u.ID == id {
			t := at
			u.LastSignIn = &t
			return nil
		}
	}
	return ErrUserNotFound
}
