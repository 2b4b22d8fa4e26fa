package document

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"

	"docsearch/apps/backend/internal/docstore"
	"docsearch/apps/backend/internal/ingest"
	"docsearch/apps/backend/internal/middleware"
	"docsearch/apps/backend/internal/worker"
)

type Service interface {
	Documents(ctx context.Context) ([]ingest.DocumentStatus, error)
	AddDocument(ctx context.Context, name string, data []byte) (*ingest.Outcome, error)
	ReprocessAll(ctx context.Context) (*ingest.ScanReport, error)
}

type Reader interface {
	Read(ctx context.Context, name string) ([]byte, error)
}

type Handler struct {
	service     Service
	reader      Reader
	publisher   worker.TaskPublisher
	maxUploadMB int64
}

// NewHandler wires the document routes. A nil publisher makes reprocessing
// synchronous.
func NewHandler(s Service, r Reader, p worker.TaskPublisher, maxUploadMB int64) *Handler {
	return &Handler{service: s, reader: r, publisher: p, maxUploadMB: maxUploadMB}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docs, err := h.service.Documents(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list documents", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to list documents", http.StatusInternalServerError)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]any{
		"documents": docs,
		"total":     len(docs),
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")
	if docstore.ValidateName(name) != nil {
		h.writeError(ctx, w, "NOT_FOUND", "document not found", http.StatusNotFound)
		return
	}

	data, err := h.reader.Read(ctx, name)
	if errors.Is(err, docstore.ErrNotFound) {
		h.writeError(ctx, w, "NOT_FOUND", "document not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to read document", "filename", name, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to read document", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", "inline; filename=\""+name+"\"")
	if _, err := w.Write(data); err != nil {
		slog.WarnContext(ctx, "failed to stream document", "filename", name, "error", err)
	}
}

func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := h.maxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(ctx, w, "FILE_TOO_LARGE", "file exceeds the upload limit", http.StatusRequestEntityTooLarge)
			return
		}
		h.writeError(ctx, w, "VALIDATION_ERROR", "expected a multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "unable to retrieve file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	name := path.Base(header.Filename)
	if err := docstore.ValidateName(name); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "only .pdf files are accepted", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "failed to read upload", http.StatusBadRequest)
		return
	}

	out, err := h.service.AddDocument(ctx, name, data)
	switch {
	case errors.Is(err, ingest.ErrInvalidDocument):
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ingest.ErrDocumentBusy):
		h.writeError(ctx, w, "CONFLICT", "document is already being processed", http.StatusConflict)
		return
	case err != nil:
		slog.ErrorContext(ctx, "upload failed", "filename", name, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to process document", http.StatusInternalServerError)
		return
	}
	h.writeJSON(ctx, w, http.StatusCreated, out)
}

func (h *Handler) Reprocess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.publisher != nil {
		if err := worker.PublishTask(ctx, h.publisher, worker.IngestTask{Reprocess: true}); err != nil {
			slog.ErrorContext(ctx, "failed to queue reprocess", "error", err)
			h.writeError(ctx, w, "INTERNAL_ERROR", "failed to queue reprocess", http.StatusInternalServerError)
			return
		}
		h.writeJSON(ctx, w, http.StatusAccepted, map[string]any{"status": "queued"})
		return
	}

	report, err := h.service.ReprocessAll(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "reprocess failed", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "reprocess failed", http.StatusInternalServerError)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, report)
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{"data": data}); err != nil {
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
