package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"accessgate.io/internal/auth"
	"accessgate.io/internal/obs"
)

// dayLayout is the grouping key: the UTC calendar date of an entry.
const dayLayout = "2006-01-02"

// UserLookup resolves actor ids for the dashboard view.
type UserLookup interface {
	Find(ctx context.Context, id string) (auth.User, error)
}

// Log is the best-effort audit recorder and the read side of the audit dashboard.
type Log struct {
	store Store
	users UserLookup
	now   func() time.Time
}

var _ auth.Recorder = (*Log)(nil)

// Option configures Log.
type Option func(*Log)

// WithClock overrides the time source used for entry timestamps.
func WithClock(fn func() time.Time) Option {
	return func(l *Log) {
		if fn != nil {
			l.now = fn
		}
	}
}

func New(store Store, users UserLookup, opts ...Option) *Log {
	l := &Log{store: store, users: users, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends an entry. It never reports failure to the caller: store
// errors and panics are written to the operator log and counted instead.
// Cancellation of ctx does not abort the write.
func (l *Log) Record(ctx context.Context, actorID, action string, success bool) {
	entry := &Entry{
		ActorID:    strings.TrimSpace(actorID),
		Action:     action,
		SourceAddr: SourceAddrFromContext(ctx),
		Success:    success,
		CreatedAt:  l.now().UTC(),
	}
	defer func() {
		if r := recover(); r != nil {
			l.failed(ctx, entry, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := l.store.Append(context.WithoutCancel(ctx), entry); err != nil {
		l.failed(ctx, entry, err)
		return
	}
	_ = LogEvent(ctx, "audit.entry.appended", map[string]any{
		"entry_id": entry.ID,
		"actor_id": entry.ActorID,
		"action":   entry.Action,
		"success":  entry.Success,
	})
}

func (l *Log) failed(ctx context.Context, entry *Entry, err error) {
	obs.AuditWriteFailed()
	fields := map[string]any{
		"actor_id": entry.ActorID,
		"action":   entry.Action,
		"success":  entry.Success,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		fields["request_id"] = rid
	}
	obs.LogError("audit append failed", err, fields)
}

// View is an entry with its actor expanded for display.
type View struct {
	ID        string        `json:"id"`
	User      *auth.Summary `json:"user"`
	Action    string        `json:"action"`
	IP        string        `json:"ip"`
	Success   bool          `json:"success"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Day holds the entries created on one UTC calendar date, newest first.
type Day struct {
	Date    string
	Entries []View
}

// Grouped is the dashboard listing, newest date first.
type Grouped struct {
	Days []Day
}

// MarshalJSON renders {"YYYY-MM-DD": [...], ...} keeping the newest-first key order.
func (g Grouped) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, day := range g.Days {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(day.Date)
		if err != nil {
			return nil, err
		}
		entries := day.Entries
		if entries == nil {
			entries = []View{}
		}
		val, err := json.Marshal(entries)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Count returns the total number of entries across all days.
func (g Grouped) Count() int {
	n := 0
	for _, d := range g.Days {
		n += len(d.Entries)
	}
	return n
}

// ListGroupedByDay returns every entry grouped by UTC creation date. Admin only.
func (l *Log) ListGroupedByDay(ctx context.Context, viewer auth.Identity) (Grouped, error) {
	if err := auth.RequireRole(viewer, auth.RoleAdmin); err != nil {
		return Grouped{}, err
	}
	entries, err := l.store.List(ctx)
	if err != nil {
		return Grouped{}, fmt.Errorf("list audit entries: %w", err)
	}
	sortNewestFirst(entries)

	actors := make(map[string]*auth.Summary)
	var out Grouped
	for _, e := range entries {
		actor, err := l.actor(ctx, actors, e.ActorID)
		if err != nil {
			return Grouped{}, err
		}
		date := e.CreatedAt.UTC().Format(dayLayout)
		if n := len(out.Days); n == 0 || out.Days[n-1].Date != date {
			out.Days = append(out.Days, Day{Date: date})
		}
		day := &out.Days[len(out.Days)-1]
		day.Entries = append(day.Entries, View{
			ID:        e.ID,
			User:      actor,
			Action:    e.Action,
			IP:        e.SourceAddr,
			Success:   e.Success,
			CreatedAt: e.CreatedAt,
		})
	}
	return out, nil
}

func (l *Log) actor(ctx context.Context, cache map[string]*auth.Summary, id string) (*auth.Summary, error) {
	if id == "" || l.users == nil {
		return nil, nil
	}
	if s, ok := cache[id]; ok {
		return s, nil
	}
	u, err := l.users.Find(ctx, id)
	switch {
	case err == nil:
		s := u.Summary()
		cache[id] = &s
		return &s, nil
	case errors.Is(err, auth.ErrNotFound):
		cache[id] = nil
		return nil, nil
	default:
		return nil, fmt.Errorf("resolve audit actor: %w", err)
	}
}
