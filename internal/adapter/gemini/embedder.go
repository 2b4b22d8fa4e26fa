package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

const (
	DefaultModel     = "gemini-embedding-001"
	DefaultBatchSize = 100
)

type Options struct {
	Model     string
	BatchSize int
	// RequestsPerSecond bounds calls to the API; zero means unlimited.
	RequestsPerSecond float64
}

// Embedder calls the Gemini batch embedding endpoint.
type Embedder struct {
	client    *genai.Client
	model     string
	batchSize int
	limiter   *rate.Limiter
}

func NewEmbedder(ctx context.Context, apiKey string, opts Options, clientOpts ...option.ClientOption) (*Embedder, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key not configured")
	}
	client, err := genai.NewClient(ctx, append(clientOpts, option.WithAPIKey(apiKey))...)
	if err != nil {
		return nil, err
	}

	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Embedder{
		client:    client,
		model:     opts.Model,
		batchSize: opts.BatchSize,
		limiter:   rate.NewLimiter(limit, 1),
	}, nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	em := e.client.EmbeddingModel(e.model)
	out := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		batch := em.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}

		slog.DebugContext(ctx, "embedding batch", "model", e.model, "size", end-start)
		res, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			slog.ErrorContext(ctx, "embedding failed", "error", err)
			return nil, err
		}
		if len(res.Embeddings) != end-start {
			return nil, fmt.Errorf("expected %d embeddings, got %d", end-start, len(res.Embeddings))
		}
		for _, emb := range res.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, errors.New("empty embedding received")
			}
			out = append(out, emb.Values)
		}
	}
	return out, nil
}

func (e *Embedder) Close() error {
	return e.client.Close()
}
