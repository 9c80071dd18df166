package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"accessgate.io/internal/ids"
)

// Entry is an immutable record of a security-relevant action.
type Entry struct {
	ID         string
	ActorID    string // empty when the actor could not be resolved
	Action     string
	SourceAddr string
	Success    bool
	CreatedAt  time.Time
}

// Store appends entries and lists them newest first. There is no update or delete.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	List(ctx context.Context) ([]Entry, error)
}

// InMemory implements Store in process memory.
type InMemory struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *InMemory) List(ctx context.Context) ([]Entry, error) {
	s.mu.RLock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	s.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].ID > entries[j].ID
	})
}
