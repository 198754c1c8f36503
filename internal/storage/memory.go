package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps the most recent records in a ring. It backs the HTTP
// audit endpoint when no database is configured and is handy in tests.
type MemoryStore struct {
	mu      sync.Mutex
	records []AuditRecord
	next    int
	full    bool
}

// NewMemoryStore creates a store holding up to capacity records.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity < 1 {
		capacity = 1000
	}
	return &MemoryStore{records: make([]AuditRecord, capacity)}
}

func (m *MemoryStore) Write(rec *AuditRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[m.next] = *rec
	m.next = (m.next + 1) % len(m.records)
	if m.next == 0 {
		m.full = true
	}
}

func (m *MemoryStore) Close() {}

// snapshot returns records newest first.
func (m *MemoryStore) snapshot() []AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.next
	if m.full {
		n = len(m.records)
	}
	out := make([]AuditRecord, 0, n)
	for i := 1; i <= n; i++ {
		idx := (m.next - i + len(m.records)) % len(m.records)
		out = append(out, m.records[idx])
	}
	return out
}

// Records returns every retained record, newest first.
func (m *MemoryStore) Records() []AuditRecord {
	return m.snapshot()
}

func (m *MemoryStore) ListRecords(_ context.Context, params ListParams) ([]AuditRecord, int, error) {
	params = params.normalize()
	var matched []AuditRecord
	for _, rec := range m.snapshot() {
		if params.matches(&rec) {
			matched = append(matched, rec)
		}
	}
	total := len(matched)
	start := min(params.offset(), total)
	end := min(start+params.PageSize, total)
	return matched[start:end], total, nil
}

// MultiWriter fans records out to several writers.
type MultiWriter []AuditWriter

func (m MultiWriter) Write(rec *AuditRecord) {
	for _, w := range m {
		w.Write(rec)
	}
}

func (m MultiWriter) Close() {
	for _, w := range m {
		w.Close()
	}
}
