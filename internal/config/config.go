package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"docsearch/apps/backend/internal/text"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

const (
	SourceFS    = "fs"
	SourceMinio = "minio"

	BackendWeaviate = "weaviate"
	BackendMemory   = "memory"

	ProviderLocal  = "local"
	ProviderGemini = "gemini"

	LedgerBolt     = "bolt"
	LedgerPostgres = "postgres"
	LedgerMemory   = "memory"
)

type Config struct {
	// Server
	ServerPort      int    `envconfig:"SERVER_PORT" default:"8080"`
	QueryLogPath    string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	MaxUploadSizeMB int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`

	// Documents
	DocumentSource string `envconfig:"DOCUMENT_SOURCE" default:"fs"`
	DocumentsDir   string `envconfig:"DOCUMENTS_DIR" default:"./documents"`

	// Chunking and search defaults
	ChunkSize            int     `envconfig:"CHUNK_SIZE" default:"500"`
	ChunkOverlap         int     `envconfig:"CHUNK_OVERLAP" default:"50"`
	DefaultMaxResults    int     `envconfig:"DEFAULT_MAX_RESULTS" default:"10"`
	DefaultMinConfidence float64 `envconfig:"DEFAULT_MIN_CONFIDENCE" default:"0.3"`

	VectorBackend  string `envconfig:"VECTOR_BACKEND" default:"weaviate"`
	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8081"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	WeaviateClass  string `envconfig:"WEAVIATE_CLASS" default:"Passage"`

	EmbeddingProvider   string  `envconfig:"EMBEDDING_PROVIDER" default:"local"`
	GeminiAPIKey        string  `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel      string  `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
	EmbeddingDimensions int     `envconfig:"EMBEDDING_DIMENSIONS" default:"384"`
	EmbeddingBatchSize  int     `envconfig:"EMBEDDING_BATCH_SIZE" default:"100"`
	EmbeddingRateLimit  float64 `envconfig:"EMBEDDING_RATE_LIMIT" default:"5"`

	LedgerBackend string `envconfig:"LEDGER_BACKEND" default:"bolt"`
	LedgerPath    string `envconfig:"LEDGER_PATH" default:"data/ledger.db"`

	DBHost        string `envconfig:"DB_HOST" default:"postgres"`
	DBPort        int    `envconfig:"DB_PORT" default:"5432"`
	DBUser        string `envconfig:"DB_USER" default:"docsearch"`
	DBPass        string `envconfig:"DB_PASS" default:"password"`
	DBName        string `envconfig:"DB_NAME" default:"docsearch"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	MinioEndpoint  string `envconfig:"MINIO_ENDPOINT" default:"localhost:9000"`
	MinioAccessKey string `envconfig:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `envconfig:"MINIO_SECRET_KEY"`
	MinioBucket    string `envconfig:"MINIO_BUCKET" default:"documents"`
	MinioUseSSL    bool   `envconfig:"MINIO_USE_SSL" default:"false"`

	NSQEnabled bool   `envconfig:"NSQ_ENABLED" default:"false"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	NSQLookupd string `envconfig:"NSQ_LOOKUPD_HOST" default:"nsqlookupd:4161"`

	IngestionConcurrency int  `envconfig:"INGESTION_CONCURRENCY" default:"4"`
	WatchDocuments       bool `envconfig:"WATCH_DOCUMENTS" default:"false"`
	ScanOnStart          bool `envconfig:"SCAN_ON_START" default:"true"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars set in the shell take precedence; missing files are fine.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := text.ValidateChunking(c.ChunkSize, c.ChunkOverlap); err != nil {
		return err
	}
	if c.DefaultMaxResults < 1 || c.DefaultMaxResults > 50 {
		return fmt.Errorf("%w: DEFAULT_MAX_RESULTS must be in [1, 50], got %d", ErrInvalidConfig, c.DefaultMaxResults)
	}
	if c.DefaultMinConfidence < 0 || c.DefaultMinConfidence > 1 {
		return fmt.Errorf("%w: DEFAULT_MIN_CONFIDENCE must be in [0, 1], got %v", ErrInvalidConfig, c.DefaultMinConfidence)
	}
	if c.MaxUploadSizeMB <= 0 {
		return fmt.Errorf("%w: MAX_UPLOAD_SIZE_MB must be positive", ErrInvalidConfig)
	}
	if c.IngestionConcurrency < 1 {
		return fmt.Errorf("%w: INGESTION_CONCURRENCY must be at least 1", ErrInvalidConfig)
	}

	switch c.DocumentSource {
	case SourceFS:
		if c.DocumentsDir == "" {
			return fmt.Errorf("%w: DOCUMENTS_DIR", ErrMissingRequired)
		}
	case SourceMinio:
		if c.MinioEndpoint == "" || c.MinioBucket == "" {
			return fmt.Errorf("%w: MINIO_ENDPOINT and MINIO_BUCKET", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: unknown DOCUMENT_SOURCE %q", ErrInvalidConfig, c.DocumentSource)
	}

	switch c.VectorBackend {
	case BackendMemory:
	case BackendWeaviate:
		if c.WeaviateHost == "" {
			return fmt.Errorf("%w: WEAVIATE_HOST", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: unknown VECTOR_BACKEND %q", ErrInvalidConfig, c.VectorBackend)
	}

	switch c.EmbeddingProvider {
	case ProviderLocal:
		if c.EmbeddingDimensions <= 0 {
			return fmt.Errorf("%w: EMBEDDING_DIMENSIONS must be positive", ErrInvalidConfig)
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: unknown EMBEDDING_PROVIDER %q", ErrInvalidConfig, c.EmbeddingProvider)
	}

	switch c.LedgerBackend {
	case LedgerMemory:
	case LedgerBolt:
		if c.LedgerPath == "" {
			return fmt.Errorf("%w: LEDGER_PATH", ErrMissingRequired)
		}
	case LedgerPostgres:
		if c.DBHost == "" {
			return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
		}
		if c.DBUser == "" {
			return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
		}
		if c.DBName == "" {
			return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: unknown LEDGER_BACKEND %q", ErrInvalidConfig, c.LedgerBackend)
	}

	if c.LedgerOutlivesIndex() {
		return fmt.Errorf("%w: LEDGER_BACKEND %q cannot be used with VECTOR_BACKEND %q, the index is lost on restart while the ledger is not",
			ErrInvalidConfig, c.LedgerBackend, c.VectorBackend)
	}

	if c.NSQEnabled && c.NSQDHost == "" {
		return fmt.Errorf("%w: NSQD_HOST", ErrMissingRequired)
	}
	return nil
}

// PostgresDSN is the lib/pq connection string for the ledger database.
// LedgerOutlivesIndex reports a durable ledger paired with the in-memory
// index. Such a ledger would mark documents processed after a restart has
// emptied the index.
func (c *Config) LedgerOutlivesIndex() bool {
	return c.VectorBackend == BackendMemory && c.LedgerBackend != LedgerMemory
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}
