package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsearch/apps/backend/internal/app"
	"docsearch/apps/backend/internal/retrieval"
	"docsearch/apps/backend/internal/testutils"
)

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	cfg := localConfig(t)
	deps, err := app.Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	a, err := app.New(cfg, deps, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	require.NoError(t, err)
	return a
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNew_Routes(t *testing.T) {
	a := newTestApp(t)
	assert.NotNil(t, a.Engine)
	assert.NotNil(t, a.Coordinator)
	assert.NotNil(t, a.IngestConsumer)

	w := do(t, a.Handler, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	w = do(t, a.Handler, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_chunks":0`)
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))

	w = do(t, a.Handler, httptest.NewRequest(http.MethodGet, "/api/documents", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, a.Handler, httptest.NewRequest(http.MethodGet, "/api/documents/missing.pdf", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNew_SearchValidation(t *testing.T) {
	a := newTestApp(t)

	w := do(t, a.Handler, httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewBufferString(`{"query":"   "}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, a.Handler, httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewBufferString(`{"query":"install rhel"}`)))
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data struct {
			TotalResults int `json:"total_results"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Zero(t, resp.Data.TotalResults)
}

func TestNew_UploadUnreadablePDF(t *testing.T) {
	a := newTestApp(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "broken.pdf")
	require.NoError(t, err)
	_, _ = part.Write([]byte("not really a pdf"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := do(t, a.Handler, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"no_content"`)

	w = do(t, a.Handler, httptest.NewRequest(http.MethodGet, "/api/documents/broken.pdf", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "not really a pdf", w.Body.String())

	w = do(t, a.Handler, httptest.NewRequest(http.MethodPost, "/api/documents/reprocess", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"no_content":1`)
}

func TestApp_RestartOnMemoryIndexReindexes(t *testing.T) {
	cfg := localConfig(t)
	require.NoError(t, cfg.Validate())
	require.NoError(t, os.MkdirAll(cfg.DocumentsDir, 0o750))
	pdf := testutils.BuildPDF(testutils.TextPage("Use restorecon to fix SELinux contexts on RHEL 9"))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DocumentsDir, "selinux.pdf"), pdf, 0o600))

	for run := 1; run <= 2; run++ {
		ctx := context.Background()
		deps, err := app.Bootstrap(ctx, cfg)
		require.NoError(t, err)
		a, err := app.New(cfg, deps, slog.New(slog.NewJSONHandler(io.Discard, nil)))
		require.NoError(t, err)

		report, err := a.Coordinator.ScanAndProcess(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Processed, "run %d", run)
		assert.Zero(t, report.Unchanged, "run %d", run)

		results, err := a.Engine.Search(ctx, retrieval.SearchRequest{Query: "restorecon selinux contexts", MaxResults: 5})
		require.NoError(t, err)
		require.NotEmpty(t, results, "run %d", run)
		assert.Equal(t, "selinux.pdf", results[0].Source)

		require.NoError(t, deps.Close())
	}
}
