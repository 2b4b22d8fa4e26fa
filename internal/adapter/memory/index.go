// Package memory is a process-local vector index using exact cosine search.
package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"docsearch/apps/backend/internal/retrieval"
)

type entry struct {
	vector   []float32
	norm     float64
	content  string
	metadata map[string]any
}

// Index keeps records in insertion order; re-adding an ID replaces the entry
// in place.
type Index struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	dim     int
}

func NewIndex() *Index {
	return &Index{entries: make(map[string]*entry)}
}

func (ix *Index) Add(_ context.Context, records []retrieval.Record) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, r := range records {
		if r.ID == "" {
			return errors.New("record without id")
		}
		if ix.dim == 0 {
			ix.dim = len(r.Vector)
		}
		if len(r.Vector) != ix.dim {
			return fmt.Errorf("record %s: vector has %d dimensions, index has %d", r.ID, len(r.Vector), ix.dim)
		}
	}

	for _, r := range records {
		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		e := &entry{vector: vec, norm: norm(vec), content: r.Content, metadata: cloneMap(r.Metadata)}
		if _, exists := ix.entries[r.ID]; !exists {
			ix.order = append(ix.order, r.ID)
		}
		ix.entries[r.ID] = e
	}
	return nil
}

func (ix *Index) Query(_ context.Context, vector []float32, k int, filter map[string]string) ([]retrieval.Candidate, error) {
	if k <= 0 {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.dim != 0 && len(vector) != ix.dim {
		return nil, fmt.Errorf("query vector has %d dimensions, index has %d", len(vector), ix.dim)
	}

	qnorm := norm(vector)
	out := make([]retrieval.Candidate, 0, len(ix.order))
	for _, id := range ix.order {
		e := ix.entries[id]
		if !matches(e.metadata, filter) {
			continue
		}
		out = append(out, retrieval.Candidate{
			ID:       id,
			Distance: cosineDistance(vector, qnorm, e.vector, e.norm),
			Content:  e.content,
			Metadata: cloneMap(e.metadata),
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (ix *Index) AllMetadata(_ context.Context) ([]map[string]any, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]map[string]any, 0, len(ix.order))
	for _, id := range ix.order {
		out = append(out, cloneMap(ix.entries[id].metadata))
	}
	return out, nil
}

func (ix *Index) Count(_ context.Context) (int, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries), nil
}

func matches(md map[string]any, filter map[string]string) bool {
	for k, want := range filter {
		got, ok := md[k].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// cosineDistance is 1 - cos(a, b); a zero vector is at distance 1 from
// everything.
func cosineDistance(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 1
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	sim := dot / (an * bn)
	return 1 - math.Max(-1, math.Min(1, sim))
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
