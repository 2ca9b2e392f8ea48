// Package logsink records log entries for user interfaces.
//
// A Factory is a logging.LoggerFactory whose loggers write through to a
// pion default logger and also keep every entry at or above a level in a
// fixed-capacity ring Buffer.
package logsink

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"
)

// Entry is one recorded log line.
type Entry struct {
	Time    time.Time
	Scope   string
	Level   logging.LogLevel
	Message string
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %-5s %s: %s", e.Time.Format("2006-01-02 15:04:05.000"), e.Level, e.Scope, e.Message)
}

// Buffer is a ring buffer of entries.
type Buffer struct {
	mu      sync.RWMutex
	entries []Entry
	head    int
	count   int
}

// NewBuffer creates a buffer holding up to capacity entries.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{entries: make([]Entry, capacity)}
}

// Add appends e, overwriting the oldest entry when full.
func (b *Buffer) Add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = e
	b.head = (b.head + 1) % len(b.entries)
	if b.count < len(b.entries) {
		b.count++
	}
}

// All returns the entries oldest first.
func (b *Buffer) All() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Entry, b.count)
	start := 0
	if b.count == len(b.entries) {
		start = b.head
	}
	for i := range out {
		out[i] = b.entries[(start+i)%len(b.entries)]
	}
	return out
}

// Recent returns up to n entries, newest first.
func (b *Buffer) Recent(n int) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n > b.count {
		n = b.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]Entry, n)
	for i := range out {
		out[i] = b.entries[(b.head-1-i+len(b.entries))%len(b.entries)]
	}
	return out
}

// Len returns the number of entries held.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Clear drops every entry.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head, b.count = 0, 0
}
