package auth

import (
	"context"
	"sort"
	"strings"
	"sync"

	"accessgate.io/internal/ids"
)

// UserStore persists accounts. Implementations return ErrConflict on a
// duplicate email and ErrNotFound for unknown ids or emails.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	List(ctx context.Context) ([]User, error)
}

// Recorder appends audit entries. Record must not fail the calling operation.
type Recorder interface {
	Record(ctx context.Context, actorID, action string, success bool)
}

// InMemoryUsers implements UserStore with in-process concurrency safety.
type InMemoryUsers struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string
}

// NewInMemoryUsers creates an empty store.
func NewInMemoryUsers() *InMemoryUsers {
	return &InMemoryUsers{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
	}
}

func (s *InMemoryUsers) Create(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := NormalizeEmail(u.Email)
	if _, ok := s.byEmail[email]; ok {
		return E(ErrConflict, "user already exists")
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.Email = email
	s.byID[u.ID] = *u
	s.byEmail[email] = u.ID
	return nil
}

func (s *InMemoryUsers) Find(ctx context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return User{}, E(ErrNotFound, "user not found")
	}
	return u, nil
}

func (s *InMemoryUsers) FindByEmail(ctx context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, E(ErrNotFound, "user not found")
	}
	return s.byID[id], nil
}

func (s *InMemoryUsers) List(ctx context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.byID))
	for _, u := range s.byID {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if a == b {
			return out[i].ID < out[j].ID
		}
		return a < b
	})
	return out, nil
}
