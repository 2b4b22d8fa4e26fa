package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"docsearch/apps/backend/internal/middleware"
	"docsearch/apps/backend/internal/passage"
)

const (
	MaxQueryLength       = 500
	MaxResultsLimit      = 50
	maxCandidates        = 100
	DefaultMaxResults    = 10
	DefaultMinConfidence = 0.3
)

// filterKeys are the only request filters forwarded to the index.
var filterKeys = []string{passage.KeyCategory, passage.KeyVersion}

type SearchRequest struct {
	Query         string
	Filters       map[string]any
	MaxResults    int
	MinConfidence float64
}

type SearchResult struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	Source     string         `json:"source"`
	Confidence float64        `json:"confidence"`
	Category   string         `json:"category"`
	Version    string         `json:"version"`
	Tags       []string       `json:"tags"`
	Page       int            `json:"page"`
	Section    string         `json:"section"`
	Metadata   map[string]any `json:"metadata"`
}

type IndexStats struct {
	TotalChunks       int            `json:"total_chunks"`
	TotalQueries      int64          `json:"total_queries"`
	AvgResponseTimeMs float64        `json:"avg_response_time_ms"`
	Categories        map[string]int `json:"categories"`
	Versions          map[string]int `json:"versions"`
	LastUpdated       time.Time      `json:"last_updated"`
}

type Engine struct {
	embedder Embedder
	index    VectorIndex
	logger   *QueryLogger
	usage    *usageTracker
}

func NewEngine(e Embedder, idx VectorIndex, l *QueryLogger) *Engine {
	return &Engine{embedder: e, index: idx, logger: l, usage: newUsageTracker(time.Now)}
}

// Index embeds the passages in one batch and writes them to the index.
func (e *Engine) Index(ctx context.Context, passages []passage.Passage) error {
	if len(passages) == 0 {
		return nil
	}

	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Content
	}

	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(vectors) != len(passages) {
		return fmt.Errorf("%w: got %d vectors for %d passages", ErrEmbedding, len(vectors), len(passages))
	}

	records := make([]Record, len(passages))
	for i, p := range passages {
		records[i] = Record{
			ID:       p.ID,
			Vector:   vectors[i],
			Content:  p.Content,
			Metadata: p.IndexMetadata(),
		}
	}

	if err := e.index.Add(ctx, records); err != nil {
		return fmt.Errorf("%w: %w", ErrIndex, err)
	}
	e.usage.touch()
	return nil
}

// Search ranks indexed passages against the query by confidence, the cosine
// similarity clamped to [0, 1].
func (e *Engine) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	start := time.Now()
	var results []SearchResult
	var err error

	defer func() {
		if e.logger != nil {
			entry := QueryLogEntry{
				Query:         req.Query,
				Filters:       translateFilters(req.Filters),
				MinConfidence: req.MinConfidence,
				NumResults:    len(results),
				Duration:      time.Since(start),
				CorrelationID: middleware.GetCorrelationID(ctx),
			}
			if err != nil {
				entry.Error = err.Error()
			}
			e.logger.Log(entry)
		}
	}()

	results, err = e.search(ctx, req)
	if err != nil {
		return nil, err
	}

	e.usage.record(time.Since(start))
	return results, nil
}

func (e *Engine) search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	vectors, err := e.embedder.EmbedBatch(ctx, []string{req.Query})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for one query", ErrEmbedding, len(vectors))
	}

	k := min(req.MaxResults*2, maxCandidates)
	candidates, err := e.index.Query(ctx, vectors[0], k, translateFilters(req.Filters))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndex, err)
	}

	results := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		conf := Confidence(c.Distance)
		if conf < req.MinConfidence {
			continue
		}
		results = append(results, toResult(c, conf))
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})
	if len(results) > req.MaxResults {
		results = results[:req.MaxResults]
	}

	slog.DebugContext(ctx, "search completed", "query", req.Query, "candidates", len(candidates), "results", len(results))
	return results, nil
}

// Confidence converts a cosine distance in [0, 2] into a score in [0, 1].
func Confidence(distance float64) float64 {
	if math.IsNaN(distance) {
		return 0
	}
	return math.Max(0, math.Min(1, 1-distance))
}

// Stats combines index-derived histograms with the in-memory usage counters.
func (e *Engine) Stats(ctx context.Context) (*IndexStats, error) {
	count, err := e.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndex, err)
	}
	all, err := e.index.AllMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndex, err)
	}

	stats := &IndexStats{
		TotalChunks: count,
		Categories:  make(map[string]int),
		Versions:    make(map[string]int),
	}
	for _, md := range all {
		if c, ok := md[passage.KeyCategory].(string); ok && c != "" {
			stats.Categories[c]++
		}
		if v, ok := md[passage.KeyVersion].(string); ok && v != "" {
			stats.Versions[v]++
		}
	}

	snap := e.usage.snapshot()
	stats.TotalQueries = snap.queries
	stats.AvgResponseTimeMs = math.Round(snap.avgMs*100) / 100
	stats.LastUpdated = snap.lastUpdated
	return stats, nil
}

func validate(req SearchRequest) error {
	q := strings.TrimSpace(req.Query)
	if q == "" {
		return fmt.Errorf("%w: query must not be empty", ErrValidation)
	}
	if utf8.RuneCountInString(req.Query) > MaxQueryLength {
		return fmt.Errorf("%w: query exceeds %d characters", ErrValidation, MaxQueryLength)
	}
	if req.MaxResults < 1 || req.MaxResults > MaxResultsLimit {
		return fmt.Errorf("%w: max_results must be between 1 and %d", ErrValidation, MaxResultsLimit)
	}
	if math.IsNaN(req.MinConfidence) || req.MinConfidence < 0 || req.MinConfidence > 1 {
		return fmt.Errorf("%w: min_confidence must be between 0 and 1", ErrValidation)
	}
	return nil
}

func translateFilters(filters map[string]any) map[string]string {
	out := make(map[string]string)
	for _, key := range filterKeys {
		if v, ok := filters[key].(string); ok && v != "" {
			out[key] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func toResult(c Candidate, conf float64) SearchResult {
	p := passage.FromIndex(c.ID, c.Content, c.Metadata)
	return SearchResult{
		ID:         p.ID,
		Title:      p.Title,
		Content:    p.Content,
		Source:     p.Source,
		Confidence: conf,
		Category:   string(p.Category),
		Version:    p.Version,
		Tags:       p.Tags,
		Page:       p.Page,
		Section:    p.Section,
		Metadata:   p.Metadata,
	}
}
