package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"docsearch/apps/backend/internal/adapter/gemini"
	"docsearch/apps/backend/internal/adapter/hashembed"
	"docsearch/apps/backend/internal/adapter/memory"
	wstore "docsearch/apps/backend/internal/adapter/weaviate"
	"docsearch/apps/backend/internal/config"
	"docsearch/apps/backend/internal/docstore"
	"docsearch/apps/backend/internal/ingest"
	"docsearch/apps/backend/internal/ledger"
	"docsearch/apps/backend/internal/retrieval"
	"docsearch/apps/backend/internal/vector"
)

type Ledger interface {
	ingest.Ledger
	Close() error
}

// Watcher is implemented by sources that can report new documents.
type Watcher interface {
	Watch(ctx context.Context, fn func(name string)) error
}

type Dependencies struct {
	Ledger   Ledger
	Index    retrieval.VectorIndex
	Embedder retrieval.Embedder
	Source   ingest.DocumentSource
	// Producer is nil when NSQ is disabled.
	Producer *nsq.Producer

	closers []func() error
}

// Close releases everything Bootstrap opened, in reverse order.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	if cfg.LedgerOutlivesIndex() {
		return nil, fmt.Errorf("%w: ledger %q with vector backend %q", config.ErrInvalidConfig, cfg.LedgerBackend, cfg.VectorBackend)
	}

	deps := &Dependencies{}
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second

	fail := func(err error) (*Dependencies, error) {
		_ = deps.Close()
		return nil, err
	}

	// Ledger
	switch cfg.LedgerBackend {
	case config.LedgerPostgres:
		db, err := openPostgres(cfg, retryDelay)
		if err != nil {
			return fail(err)
		}
		l := ledger.NewPostgresLedger(db)
		deps.Ledger = l
		deps.closers = append(deps.closers, l.Close)
	case config.LedgerMemory:
		deps.Ledger = ledger.NewMemoryLedger()
	default:
		l, err := ledger.OpenBolt(cfg.LedgerPath)
		if err != nil {
			return fail(err)
		}
		deps.Ledger = l
		deps.closers = append(deps.closers, l.Close)
	}

	// Vector index
	switch cfg.VectorBackend {
	case config.BackendMemory:
		deps.Index = memory.NewIndex()
	default:
		wClient, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			return fail(fmt.Errorf("weaviate client error: %w", err))
		}
		if err := vector.EnsureSchemaWithRetry(ctx, vector.NewSchemaAdapter(wClient), cfg.WeaviateClass, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
			return fail(fmt.Errorf("weaviate schema error: %w", err))
		}
		deps.Index = wstore.NewStore(wClient, cfg.WeaviateClass)
	}

	// Embedder
	switch cfg.EmbeddingProvider {
	case config.ProviderGemini:
		e, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, gemini.Options{
			Model:             cfg.EmbeddingModel,
			BatchSize:         cfg.EmbeddingBatchSize,
			RequestsPerSecond: cfg.EmbeddingRateLimit,
		})
		if err != nil {
			return fail(fmt.Errorf("gemini embedder error: %w", err))
		}
		deps.Embedder = e
		deps.closers = append(deps.closers, e.Close)
	default:
		deps.Embedder = hashembed.New(cfg.EmbeddingDimensions)
	}

	// Documents
	switch cfg.DocumentSource {
	case config.SourceMinio:
		store, err := docstore.NewMinioStore(docstore.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return fail(err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return fail(fmt.Errorf("minio bucket error: %w", err))
		}
		deps.Source = store
	default:
		store, err := docstore.NewFileStore(cfg.DocumentsDir)
		if err != nil {
			return fail(err)
		}
		deps.Source = store
	}

	// NSQ Producer
	if cfg.NSQEnabled {
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			return fail(fmt.Errorf("nsq producer error: %w", err))
		}
		deps.Producer = producer
		deps.closers = append(deps.closers, func() error { producer.Stop(); return nil })
		createTopics(cfg.NSQDHTTP)
	}

	return deps, nil
}

func openPostgres(cfg *config.Config, retryDelay time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1)
		time.Sleep(retryDelay)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		_ = db.Close()
		return nil, fmt.Errorf("migration up error: %w", err)
	}
	return db, nil
}

// createTopics registers the topics with nsqd so lookupd consumers can find
// them before the first publish.
func createTopics(nsqdHTTP string) {
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		create(config.TopicIngestDocument)
		create(config.TopicDocumentIndexed)
	}()
}
