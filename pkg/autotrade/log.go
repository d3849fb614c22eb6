// Package autotrade runs the background trading loop and its bounded
// audit log.
package autotrade

import (
	"sync"
	"time"
)

// DefaultLogCapacity bounds the audit ring. When full, the oldest
// entries are dropped first.
const DefaultLogCapacity = 500

// Log levels used by the worker.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelError   = "error"
)

// Entry is one audit record.
type Entry struct {
	Time    time.Time `json:"timestamp"`
	Message string    `json:"message"`
	Level   string    `json:"type"`
}

// Log is a fixed-capacity ring of audit entries. Safe for concurrent
// use; insertion order is preserved and eviction is oldest-first.
type Log struct {
	mu       sync.Mutex
	capacity int
	entries  []Entry
	now      func() time.Time
}

// NewLog builds a ring with the given capacity; zero or negative means
// DefaultLogCapacity.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &Log{capacity: capacity, now: time.Now}
}

// Append records a message, evicting the oldest entry when full.
func (l *Log) Append(level, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, Entry{Time: l.now(), Message: message, Level: level})
	if len(l.entries) > l.capacity {
		l.entries = l.entries[len(l.entries)-l.capacity:]
	}
}

// Entries returns a copy of the retained entries, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Len reports the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear drops all entries.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}
