// Package activitylog implements the Activity Log (spec §4.6): a
// fixed-capacity ring buffer of categorized events, queryable by target,
// level, category and recency, persisted best-effort to a Config Store
// snapshot so the most recent history survives a process restart.
package activitylog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Level is the severity of a LogEntry.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Category groups entries by originating subsystem.
type Category string

const (
	CategorySystem     Category = "system"
	CategoryMonitoring Category = "monitoring"
	CategoryPageAgent  Category = "page_agent"
	CategoryExtraction Category = "extraction"
	CategoryChange     Category = "change"
	CategoryWebhook    Category = "webhook"
	CategoryFailure    Category = "failure"
)

// LogEntry is one row of the activity log (spec §3).
type LogEntry struct {
	ID        uint64         `json:"id"`
	Timestamp int64          `json:"timestamp"` // epoch ms
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	Message   string         `json:"message"`
	TargetID  string         `json:"target_id,omitempty"`
	URL       string         `json:"url,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// snapshotStore is the persistence seam the log writes its recent-50
// snapshot through. internal/store.Store satisfies it.
type snapshotStore interface {
	ReplaceActivityLogSnapshot(ctx context.Context, entries []string) error
	LoadActivityLogSnapshot(ctx context.Context) ([]string, error)
	ClearActivityLogSnapshot(ctx context.Context) error
}

// persistedCount is how many of the most recent entries are persisted
// after each append (spec §4.6).
const persistedCount = 50

// DefaultCapacity is the ring buffer's default size (spec §4.6).
const DefaultCapacity = 100

// Log is the process-wide Activity Log singleton. It is safe for
// concurrent use; every append and query is serialized by an internal
// mutex, matching the ownership rule that components hold only a
// non-owning handle (spec §3).
type Log struct {
	mu       sync.Mutex
	entries  []LogEntry // logical ring, oldest first, len <= capacity
	capacity int
	nextID   uint64

	store  snapshotStore
	logger *slog.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithCapacity overrides the default ring capacity.
func WithCapacity(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithLogger sets the stderr logger used for best-effort persistence
// failures. Defaults to slog.Default() if nil.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// New creates an empty Activity Log backed by store for persistence.
// store may be nil, in which case persistence is skipped entirely.
func New(store snapshotStore, opts ...Option) *Log {
	l := &Log{
		capacity: DefaultCapacity,
		store:    store,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Restore loads the persisted snapshot (oldest first) and re-appends it
// to the in-memory buffer. Call once at process start. A load failure is
// logged to stderr and otherwise ignored — the log simply starts empty.
func (l *Log) Restore(ctx context.Context) {
	if l.store == nil {
		return
	}
	raw, err := l.store.LoadActivityLogSnapshot(ctx)
	if err != nil {
		l.logger.Error("activitylog: restore snapshot failed", "error", err)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range raw {
		var e LogEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			l.logger.Error("activitylog: decode snapshot entry failed", "error", err)
			continue
		}
		l.appendLocked(e, false)
	}
}

// Append adds entry to the buffer, masking any webhook-URL fields in
// Details, assigning it a fresh monotone ID and the current timestamp if
// unset, then persists the most recent 50 entries best-effort.
func (l *Log) Append(ctx context.Context, entry LogEntry) LogEntry {
	entry.Details = maskDetails(entry.Details)

	l.mu.Lock()
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}
	stored := l.appendLocked(entry, true)
	snapshot := l.recentLocked(persistedCount)
	l.mu.Unlock()

	l.persist(ctx, snapshot)
	return stored
}

// appendLocked assumes l.mu is held. assignID controls whether a fresh
// monotone ID is minted (false when replaying a persisted snapshot that
// already carries an ID).
func (l *Log) appendLocked(entry LogEntry, assignID bool) LogEntry {
	if assignID {
		l.nextID++
		entry.ID = l.nextID
	} else if entry.ID >= l.nextID {
		l.nextID = entry.ID + 1
	}
	if len(l.entries) >= l.capacity {
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, entry)
	return entry
}

func (l *Log) persist(ctx context.Context, snapshot []LogEntry) {
	if l.store == nil {
		return
	}
	encoded := make([]string, 0, len(snapshot))
	for _, e := range snapshot {
		b, err := json.Marshal(e)
		if err != nil {
			l.logger.Error("activitylog: encode snapshot entry failed", "error", err)
			continue
		}
		encoded = append(encoded, string(b))
	}
	if err := l.store.ReplaceActivityLogSnapshot(ctx, encoded); err != nil {
		// Best-effort: a persistence failure never recurses into the log
		// itself, and never propagates to the caller of Append.
		l.logger.Error("activitylog: persist snapshot failed", "error", err)
	}
}

// GetAll returns every entry, oldest first.
func (l *Log) GetAll() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// GetRecent returns the last n entries, oldest first.
func (l *Log) GetRecent(n int) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recentLocked(n)
}

func (l *Log) recentLocked(n int) []LogEntry {
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	start := len(l.entries) - n
	out := make([]LogEntry, n)
	copy(out, l.entries[start:])
	return out
}

// Filter composes a set of predicates over the log's entries, ANDed
// together. A nil field in Filter is not applied.
type Filter struct {
	TargetID *string
	Level    *Level
	Category *Category
	Limit    int // 0 means unlimited; applied after filtering, keeping the most recent
}

// Query returns entries matching f in chronological order (oldest first).
func (l *Log) Query(f Filter) []LogEntry {
	l.mu.Lock()
	all := make([]LogEntry, len(l.entries))
	copy(all, l.entries)
	l.mu.Unlock()

	matched := make([]LogEntry, 0, len(all))
	for _, e := range all {
		if f.TargetID != nil && e.TargetID != *f.TargetID {
			continue
		}
		if f.Level != nil && e.Level != *f.Level {
			continue
		}
		if f.Category != nil && e.Category != *f.Category {
			continue
		}
		matched = append(matched, e)
	}
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[len(matched)-f.Limit:]
	}
	return matched
}

// Clear empties the buffer and removes the persisted snapshot. It does
// not reset failure counters itself — the caller (the Supervisor, which
// owns the Failure Tracker) is responsible for that half of spec §4.6's
// clear() contract.
func (l *Log) Clear(ctx context.Context) error {
	l.mu.Lock()
	l.entries = l.entries[:0]
	l.mu.Unlock()

	if l.store == nil {
		return nil
	}
	if err := l.store.ClearActivityLogSnapshot(ctx); err != nil {
		return fmt.Errorf("activitylog: clear snapshot: %w", err)
	}
	return nil
}
