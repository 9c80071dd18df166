package resource

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"accessgate.io/internal/auth"
	"accessgate.io/internal/ids"
)

// Store persists resources and their access lists. AddAccess and RemoveAccess
// must each be atomic with respect to other mutations of the same resource.
type Store interface {
	Create(ctx context.Context, r *Resource) error
	Get(ctx context.Context, id string) (Resource, error)
	List(ctx context.Context) ([]Resource, error)
	ListAccessible(ctx context.Context, userID string) ([]Resource, error)
	// Update applies upd and stamps UpdatedAt with at.
	Update(ctx context.Context, id string, upd Update, at time.Time) (Resource, error)
	Delete(ctx context.Context, id string) error
	// AddAccess returns auth.ErrConflict when userID is already present.
	AddAccess(ctx context.Context, resourceID, userID string) error
	// RemoveAccess succeeds when userID is absent.
	RemoveAccess(ctx context.Context, resourceID, userID string) error
}

var errResourceNotFound = auth.E(auth.ErrNotFound, "resource not found")

// InMemory implements Store with a single lock serializing all mutations.
type InMemory struct {
	mu    sync.RWMutex
	items map[string]*Resource
	seq   int64
	order map[string]int64
}

func NewInMemory() *InMemory {
	return &InMemory{
		items: make(map[string]*Resource),
		order: make(map[string]int64),
	}
}

func (s *InMemory) Create(ctx context.Context, r *Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = ids.New()
	}
	if r.UsersWithAccess == nil {
		r.UsersWithAccess = []string{}
	}
	cp := clone(*r)
	s.items[r.ID] = &cp
	s.seq++
	s.order[r.ID] = s.seq
	return nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.items[id]
	if !ok {
		return Resource{}, errResourceNotFound
	}
	return clone(*r), nil
}

func (s *InMemory) List(ctx context.Context) ([]Resource, error) {
	return s.filter(func(Resource) bool { return true }), nil
}

func (s *InMemory) ListAccessible(ctx context.Context, userID string) ([]Resource, error) {
	return s.filter(func(r Resource) bool { return slices.Contains(r.UsersWithAccess, userID) }), nil
}

func (s *InMemory) Update(ctx context.Context, id string, upd Update, at time.Time) (Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok {
		return Resource{}, errResourceNotFound
	}
	upd.Apply(r)
	r.UpdatedAt = at.UTC()
	return clone(*r), nil
}

func (s *InMemory) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return errResourceNotFound
	}
	delete(s.items, id)
	delete(s.order, id)
	return nil
}

func (s *InMemory) AddAccess(ctx context.Context, resourceID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[resourceID]
	if !ok {
		return errResourceNotFound
	}
	if slices.Contains(r.UsersWithAccess, userID) {
		return errAlreadyGranted
	}
	r.UsersWithAccess = append(r.UsersWithAccess, userID)
	return nil
}

func (s *InMemory) RemoveAccess(ctx context.Context, resourceID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[resourceID]
	if !ok {
		return errResourceNotFound
	}
	r.UsersWithAccess = slices.DeleteFunc(r.UsersWithAccess, func(id string) bool { return id == userID })
	return nil
}

func (s *InMemory) filter(keep func(Resource) bool) []Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Resource, 0, len(s.items))
	for _, r := range s.items {
		if keep(*r) {
			out = append(out, clone(*r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.order[out[i].ID] < s.order[out[j].ID] })
	return out
}

func clone(r Resource) Resource {
	r.UsersWithAccess = slices.Clone(r.UsersWithAccess)
	if r.UsersWithAccess == nil {
		r.UsersWithAccess = []string{}
	}
	return r
}
