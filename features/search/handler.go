package search

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"docsearch/apps/backend/internal/middleware"
	"docsearch/apps/backend/internal/retrieval"
)

type Searcher interface {
	Search(ctx context.Context, req retrieval.SearchRequest) ([]retrieval.SearchResult, error)
}

// Defaults fill in fields the caller left out.
type Defaults struct {
	MaxResults    int
	MinConfidence float64
}

type Handler struct {
	searcher Searcher
	defaults Defaults
}

func NewHandler(s Searcher, d Defaults) *Handler {
	if d.MaxResults == 0 {
		d.MaxResults = retrieval.DefaultMaxResults
	}
	return &Handler{searcher: s, defaults: d}
}

type Request struct {
	Query         string         `json:"query"`
	Filters       map[string]any `json:"filters,omitempty"`
	MaxResults    *int           `json:"max_results,omitempty"`
	MinConfidence *float64       `json:"min_confidence,omitempty"`
}

type Response struct {
	Query            string                   `json:"query"`
	Results          []retrieval.SearchResult `json:"results"`
	TotalResults     int                      `json:"total_results"`
	ProcessingTimeMs float64                  `json:"processing_time_ms"`
}

// ToSearchRequest applies the defaults for any field the caller omitted.
func (d Defaults) ToSearchRequest(r Request) retrieval.SearchRequest {
	req := retrieval.SearchRequest{
		Query:         r.Query,
		Filters:       r.Filters,
		MaxResults:    d.MaxResults,
		MinConfidence: d.MinConfidence,
	}
	if r.MaxResults != nil {
		req.MaxResults = *r.MaxResults
	}
	if r.MinConfidence != nil {
		req.MinConfidence = *r.MinConfidence
	}
	return req
}

// Present rounds confidences to three decimals for display.
func Present(results []retrieval.SearchResult) []retrieval.SearchResult {
	out := make([]retrieval.SearchResult, len(results))
	for i, r := range results {
		r.Confidence = math.Round(r.Confidence*1000) / 1000
		out[i] = r
	}
	return out
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	var body Request
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "invalid JSON body", http.StatusBadRequest)
		return
	}

	results, err := h.searcher.Search(ctx, h.defaults.ToSearchRequest(body))
	if err != nil {
		if errors.Is(err, retrieval.ErrValidation) {
			h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
			return
		}
		slog.ErrorContext(ctx, "search failed", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "search failed", http.StatusInternalServerError)
		return
	}

	resp := Response{
		Query:            body.Query,
		Results:          Present(results),
		TotalResults:     len(results),
		ProcessingTimeMs: float64(time.Since(start).Microseconds()) / 1000,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
