// Package audit implements the fixed-capacity ring buffer that records
// admin-tier (and, per configuration, other-tier) operations.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tier classifies an operation for audit purposes.
type Tier string

const (
	TierRead  Tier = "read"
	TierWrite Tier = "write"
	TierAdmin Tier = "admin"
)

// Result is the outcome recorded for an audited operation.
type Result string

const (
	ResultSuccess Result = "success"
	ResultError   Result = "error"
)

// Entry is a single append-only audit record.
type Entry struct {
	ID            string
	Timestamp     time.Time
	UserID        string // empty when unauthenticated
	SessionID     string // empty when unauthenticated
	Operation     string
	Resource      string
	Result        Result
	Error         string
	Details       map[string]any
	RemoteAddress string
}

// Sink is invoked synchronously, without any internal lock held, for every
// entry accepted into the buffer.
type Sink func(Entry)

// Log is a fixed-capacity, concurrency-safe ring buffer of Entry. When full,
// Append overwrites the oldest entry. Query results are newest-first.
//
// The index bookkeeping (a write head plus a live-entry count) follows a
// classic byte ring buffer, adapted here to a slice of structs since an
// audit log is a sequence of records rather than a byte stream.
type Log struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	head     int // next write position
	count    int // number of live entries, <= capacity

	tiers map[Tier]bool

	sinksMu sync.RWMutex
	sinks   []Sink
}

// Config configures a Log.
type Config struct {
	// Tiers lists which operation tiers are recorded. Defaults to {admin}.
	Tiers []Tier
	// MaxEntries is the ring buffer capacity. Defaults to 10000. A size of
	// 1 is legal and behaves as a single-slot overwrite.
	MaxEntries int
	// OnEntry, if set, is invoked for every accepted entry.
	OnEntry Sink
}

// New creates a Log per Config, applying the documented defaults.
func New(cfg Config) *Log {
	tiers := cfg.Tiers
	if len(tiers) == 0 {
		tiers = []Tier{TierAdmin}
	}
	capacity := cfg.MaxEntries
	if capacity <= 0 {
		capacity = 10000
	}
	tierSet := make(map[Tier]bool, len(tiers))
	for _, t := range tiers {
		tierSet[t] = true
	}
	l := &Log{
		entries:  make([]Entry, capacity),
		capacity: capacity,
		tiers:    tierSet,
	}
	if cfg.OnEntry != nil {
		l.sinks = append(l.sinks, cfg.OnEntry)
	}
	return l
}

// Subscribe registers an additional sink, invoked synchronously alongside
// any sink passed via Config, for every accepted entry.
func (l *Log) Subscribe(sink Sink) {
	l.sinksMu.Lock()
	l.sinks = append(l.sinks, sink)
	l.sinksMu.Unlock()
}

// Audited reports whether operations in tier are recorded by this Log.
func (l *Log) Audited(tier Tier) bool {
	return l.tiers[tier]
}

// Append records an entry, overwriting the oldest slot when full. It is
// O(1) and safe for concurrent callers. Configured sinks are invoked after
// the entry is committed, without holding the Log's internal lock.
func (l *Log) Append(e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	l.mu.Lock()
	l.entries[l.head] = e
	l.head = (l.head + 1) % l.capacity
	if l.count < l.capacity {
		l.count++
	}
	l.mu.Unlock()

	l.sinksMu.RLock()
	sinks := make([]Sink, len(l.sinks))
	copy(sinks, l.sinks)
	l.sinksMu.RUnlock()

	for _, sink := range sinks {
		sink(e)
	}
}

// Filter is a conjunctive query over the log. Zero-valued fields are not
// applied.
type Filter struct {
	UserID    string
	Operation string
	Result    Result
	From      time.Time // inclusive
	To        time.Time // inclusive
	Limit     int       // applied after filtering; <= 0 means unlimited
}

// Query returns entries matching Filter, newest-first. Limit is applied
// after filtering.
func (l *Log) Query(f Filter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	matched := make([]Entry, 0, l.count)
	// Walk from the most recently written slot backwards.
	for i := 0; i < l.count; i++ {
		idx := (l.head - 1 - i + l.capacity) % l.capacity
		e := l.entries[idx]
		if !matches(e, f) {
			continue
		}
		matched = append(matched, e)
		if f.Limit > 0 && len(matched) >= f.Limit {
			break
		}
	}
	return matched
}

func matches(e Entry, f Filter) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Operation != "" && e.Operation != f.Operation {
		return false
	}
	if f.Result != "" && e.Result != f.Result {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

// Len returns the number of live entries currently held, <= capacity.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Capacity returns the configured maximum entry count.
func (l *Log) Capacity() int {
	return l.capacity
}
