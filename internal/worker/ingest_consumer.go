package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"docsearch/apps/backend/internal/config"
	"docsearch/apps/backend/internal/ingest"
	"docsearch/apps/backend/internal/middleware"
)

const taskTimeout = 30 * time.Minute

type Ingester interface {
	ProcessOne(ctx context.Context, name string) (*ingest.Outcome, error)
	ReprocessAll(ctx context.Context) (*ingest.ScanReport, error)
	ScanAndProcess(ctx context.Context) (*ingest.ScanReport, error)
}

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

type IngestConsumer struct {
	ingester Ingester
}

func NewIngestConsumer(i Ingester) *IngestConsumer {
	return &IngestConsumer{ingester: i}
}

// HandleMessage always acknowledges: failed tasks are logged and left for the
// next scan or an explicit reprocess.
func (h *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var task IngestTask
	if err := json.Unmarshal(m.Body, &task); err != nil {
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}

	if task.CorrelationID == "" {
		task.CorrelationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), task.CorrelationID)
	ctx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	switch {
	case task.Reprocess && task.Name == "":
		report, err := h.ingester.ReprocessAll(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "reprocess task failed", "error", err)
			return nil
		}
		slog.InfoContext(ctx, "reprocess task finished", "processed", report.Processed, "failed", report.Failed)
	case task.Name != "":
		out, err := h.ingester.ProcessOne(ctx, task.Name)
		if errors.Is(err, ingest.ErrDocumentBusy) {
			slog.InfoContext(ctx, "document already in progress", "filename", task.Name)
			return nil
		}
		if err != nil {
			slog.ErrorContext(ctx, "ingest task failed", "filename", task.Name, "error", err)
			return nil
		}
		slog.InfoContext(ctx, "ingest task finished", "filename", task.Name, "status", out.Status, "passages", out.Passages)
	default:
		report, err := h.ingester.ScanAndProcess(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "scan task failed", "error", err)
			return nil
		}
		slog.InfoContext(ctx, "scan task finished", "processed", report.Processed, "failed", report.Failed)
	}
	return nil
}

// PublishTask queues an ingestion task on TopicIngestDocument.
func PublishTask(ctx context.Context, p TaskPublisher, task IngestTask) error {
	if task.CorrelationID == "" {
		task.CorrelationID = middleware.GetCorrelationID(ctx)
	}
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.Publish(config.TopicIngestDocument, body)
}
