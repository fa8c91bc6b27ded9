// Package history is the append-only audit trail for every execution
// attempt the engine makes. Entries are never mutated after append; the
// log is the sole source of truth for what happened.
package history

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"astra-responder/internal/schema"
)

// Status classifies the outcome recorded by a history entry.
type Status string

const (
	StatusSuccess          Status = "success"
	StatusFailure          Status = "failure"
	StatusSkippedCondition Status = "skipped_condition"
	StatusSkippedDisabled  Status = "skipped_disabled"
	StatusPendingApproval  Status = "pending_approval"
	StatusRejected         Status = "rejected"
	StatusExpired          Status = "expired"
	StatusUnblocked        Status = "unblocked"
)

// Entry is one immutable audit record. The alert context is denormalized
// into the entry so the audit trail survives whatever happens upstream.
type Entry struct {
	ID         uuid.UUID           `json:"id"`
	Seq        uint64              `json:"seq"`
	Timestamp  time.Time           `json:"timestamp"`
	ActionType schema.ActionType   `json:"action_type"`
	Status     Status              `json:"status"`
	Detail     string              `json:"detail,omitempty"`
	Error      string              `json:"error,omitempty"`
	Alert      schema.AlertContext `json:"alert"`
}

// Sink receives every appended entry for durable storage. Sink failures
// are the sink's problem; the in-memory log has already accepted the entry.
type Sink interface {
	Write(entry Entry) error
}

// Filter narrows a Query.
type Filter struct {
	ActionType schema.ActionType
	Status     Status
}

// Log is a bounded in-memory append-only log with an optional durable sink.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	head    int
	size    int
	seq     uint64
	sink    Sink
	logger  *slog.Logger
}

// DefaultCapacity bounds how many recent entries stay queryable in memory.
// The durable sink keeps the full trail.
const DefaultCapacity = 10000

// NewLog creates a log holding up to capacity recent entries.
func NewLog(capacity int, logger *slog.Logger) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		entries: make([]Entry, capacity),
		logger:  logger,
	}
}

// WithSink attaches a durable sink. Must be called before concurrent use.
func (l *Log) WithSink(sink Sink) *Log {
	l.sink = sink
	return l
}

// Append records an entry, filling in ID, sequence number, and timestamp.
// The returned copy is what was stored.
func (l *Log) Append(entry Entry) Entry {
	l.mu.Lock()
	l.seq++
	entry.Seq = l.seq
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	pos := l.head
	l.entries[pos] = entry
	l.head = (l.head + 1) % len(l.entries)
	if l.size < len(l.entries) {
		l.size++
	}
	l.mu.Unlock()

	if l.sink != nil {
		if err := l.sink.Write(entry); err != nil {
			l.logger.Error("history sink write failed",
				"entry_id", entry.ID,
				"error", err,
			)
		}
	}
	return entry
}

// Query returns up to limit most recent entries matching the filter, in
// chronological order.
func (l *Log) Query(limit int, filter Filter) []Entry {
	if limit <= 0 {
		limit = 100
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	// Walk backwards from the newest entry, collecting matches.
	matched := make([]Entry, 0, limit)
	for i := 0; i < l.size && len(matched) < limit; i++ {
		pos := (l.head - 1 - i + len(l.entries)) % len(l.entries)
		e := l.entries[pos]
		if filter.ActionType != "" && e.ActionType != filter.ActionType {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		matched = append(matched, e)
	}

	// Reverse into chronological order.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	return matched
}

// NewerThan returns entries with a sequence number greater than seq, in
// order. Used by the archiver to pick up where its last upload stopped.
func (l *Log) NewerThan(seq uint64) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for i := l.size - 1; i >= 0; i-- {
		pos := (l.head - 1 - i + len(l.entries)) % len(l.entries)
		e := l.entries[pos]
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries currently held in memory.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// LastSeq returns the sequence number of the most recent entry.
func (l *Log) LastSeq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}
