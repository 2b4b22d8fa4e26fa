package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"docsearch/apps/backend/internal/docstore"
	"docsearch/apps/backend/internal/middleware"
	"docsearch/apps/backend/internal/retrieval"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

type IndexStats interface {
	Stats(ctx context.Context) (*retrieval.IndexStats, error)
}

type DocumentLister interface {
	List(ctx context.Context) ([]docstore.Info, error)
}

type Handler struct {
	index     IndexStats
	documents DocumentLister
}

func NewHandler(i IndexStats, d DocumentLister) *Handler {
	return &Handler{index: i, documents: d}
}

type StatsResponse struct {
	retrieval.IndexStats
	TotalDocuments int    `json:"total_documents"`
	SystemStatus   string `json:"system_status"`
}

// Collect gathers index statistics. A failing document listing degrades the
// status instead of failing the call.
func (h *Handler) Collect(ctx context.Context) (*StatsResponse, error) {
	st, err := h.index.Stats(ctx)
	if err != nil {
		return nil, err
	}

	resp := &StatsResponse{IndexStats: *st, SystemStatus: StatusHealthy}
	docs, err := h.documents.List(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to list documents for stats", "error", err)
		resp.SystemStatus = StatusDegraded
		return resp, nil
	}
	resp.TotalDocuments = len(docs)
	return resp, nil
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := h.Collect(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to collect stats", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to collect stats", http.StatusInternalServerError)
		return
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
