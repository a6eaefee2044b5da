package agent

import (
	"sync"
	"time"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// AuditEntry records one attempted tool call.
type AuditEntry struct {
	RunID     string         `json:"run_id"`
	Attempt   int            `json:"attempt"`
	Index     int            `json:"index"`
	Tool      string         `json:"tool"`
	Params    map[string]any `json:"params,omitempty"`
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AuditLog is an append-only, goroutine-safe list of entries.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

func (l *AuditLog) Append(e AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

// Entries returns a copy in append order.
func (l *AuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *AuditLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *AuditLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}
