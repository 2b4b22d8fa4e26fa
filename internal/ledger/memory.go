package ledger

import (
	"context"
	"sort"
	"sync"
)

// MemoryLedger lives for the lifetime of the process.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[string]Record)}
}

func (l *MemoryLedger) Get(_ context.Context, name string) (*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.records[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (l *MemoryLedger) Put(_ context.Context, r Record) error {
	l.mu.Lock()
	l.records[r.Name] = r
	l.mu.Unlock()
	return nil
}

func (l *MemoryLedger) List(_ context.Context) ([]Record, error) {
	l.mu.RLock()
	out := make([]Record, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, r)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (l *MemoryLedger) Reset(_ context.Context) error {
	l.mu.Lock()
	l.records = make(map[string]Record)
	l.mu.Unlock()
	return nil
}

func (l *MemoryLedger) Close() error { return nil }
