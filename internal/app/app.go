package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"

	"docsearch/apps/backend/features/document"
	"docsearch/apps/backend/features/mcp"
	"docsearch/apps/backend/features/search"
	"docsearch/apps/backend/features/stats"
	"docsearch/apps/backend/internal/config"
	"docsearch/apps/backend/internal/extract"
	"docsearch/apps/backend/internal/ingest"
	"docsearch/apps/backend/internal/middleware"
	"docsearch/apps/backend/internal/passage"
	"docsearch/apps/backend/internal/retrieval"
	"docsearch/apps/backend/internal/text"
	"docsearch/apps/backend/internal/worker"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	Handler        http.Handler
	Engine         *retrieval.Engine
	Coordinator    *ingest.Coordinator
	IngestConsumer *worker.IngestConsumer

	cfg  *config.Config
	deps *Dependencies
}

func New(cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*App, error) {
	seg, err := text.NewSegmenter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		logger.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	engine := retrieval.NewEngine(deps.Embedder, deps.Index, queryLogger)

	opts := []ingest.Option{ingest.WithConcurrency(cfg.IngestionConcurrency)}
	var taskPub worker.TaskPublisher
	if deps.Producer != nil {
		opts = append(opts, ingest.WithPublisher(deps.Producer))
		taskPub = deps.Producer
	}
	coordinator := ingest.NewCoordinator(deps.Source, extract.NewPDFExtractor(), passage.NewBuilder(seg), engine, deps.Ledger, opts...)

	defaults := search.Defaults{MaxResults: cfg.DefaultMaxResults, MinConfidence: cfg.DefaultMinConfidence}
	searchHandler := search.NewHandler(engine, defaults)
	documentHandler := document.NewHandler(coordinator, deps.Source, taskPub, cfg.MaxUploadSizeMB)
	statsHandler := stats.NewHandler(engine, deps.Source)
	mcpServer := mcp.NewServer(engine, statsHandler, defaults)

	mux := http.NewServeMux()
	mux.Handle("POST /api/search", middleware.CorrelationID(http.HandlerFunc(searchHandler.Search)))
	mux.Handle("GET /api/stats", middleware.CorrelationID(http.HandlerFunc(statsHandler.GetStats)))
	mux.Handle("GET /api/documents", middleware.CorrelationID(http.HandlerFunc(documentHandler.List)))
	mux.Handle("GET /api/documents/{name}", middleware.CorrelationID(http.HandlerFunc(documentHandler.Get)))
	mux.Handle("POST /api/documents/upload", middleware.CorrelationID(http.HandlerFunc(documentHandler.Upload)))
	mux.Handle("POST /api/documents/reprocess", middleware.CorrelationID(http.HandlerFunc(documentHandler.Reprocess)))
	mux.Handle("/mcp", middleware.CorrelationID(mcpServer.Handler()))
	mux.HandleFunc("GET /health", health)

	return &App{
		Handler:        mux,
		Engine:         engine,
		Coordinator:    coordinator,
		IngestConsumer: worker.NewIngestConsumer(coordinator),
		cfg:            cfg,
		deps:           deps,
	}, nil
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Run serves HTTP until ctx is cancelled. Background ingestion starts
// alongside according to the configuration.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if a.cfg.NSQEnabled {
		consumer, err := a.startConsumer()
		if err != nil {
			return err
		}
		defer consumer.Stop()
	}

	if a.cfg.ScanOnStart {
		go func() {
			if _, err := a.Coordinator.ScanAndProcess(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("initial scan failed", "error", err)
			}
		}()
	}

	if a.cfg.WatchDocuments {
		if w, ok := a.deps.Source.(Watcher); ok {
			go func() {
				if err := w.Watch(ctx, a.onDocumentChanged(ctx)); err != nil {
					slog.Error("document watcher stopped", "error", err)
				}
			}()
		} else {
			slog.Warn("document source does not support watching", "source", a.cfg.DocumentSource)
		}
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// onDocumentChanged queues watched documents on NSQ when it is enabled and
// processes them inline otherwise.
func (a *App) onDocumentChanged(ctx context.Context) func(string) {
	return func(name string) {
		if a.deps.Producer != nil {
			if err := worker.PublishTask(ctx, a.deps.Producer, worker.IngestTask{Name: name}); err != nil {
				slog.Error("failed to queue document", "filename", name, "error", err)
			}
			return
		}
		out, err := a.Coordinator.ProcessOne(ctx, name)
		if err != nil {
			if !errors.Is(err, ingest.ErrDocumentBusy) {
				slog.Error("failed to process watched document", "filename", name, "error", err)
			}
			return
		}
		slog.Info("processed watched document", "filename", name, "status", out.Status)
	}
}

func (a *App) startConsumer() (*nsq.Consumer, error) {
	consumer, err := nsq.NewConsumer(config.TopicIngestDocument, config.ChannelIngest, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq consumer error: %w", err)
	}
	consumer.AddHandler(a.IngestConsumer)
	if err := consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("nsq lookupd error: %w", err)
	}
	slog.Info("NSQ ingest consumer connected", "topic", config.TopicIngestDocument)
	return consumer, nil
}
