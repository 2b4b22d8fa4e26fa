// Package ingest turns documents from a source into indexed passages exactly
// once per content version.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"docsearch/apps/backend/internal/config"
	"docsearch/apps/backend/internal/docstore"
	"docsearch/apps/backend/internal/ledger"
	"docsearch/apps/backend/internal/middleware"
	"docsearch/apps/backend/internal/passage"
)

var (
	ErrInvalidDocument = errors.New("invalid document")
	ErrDocumentBusy    = errors.New("document is already being processed")
)

const DefaultConcurrency = 4

const (
	OutcomeProcessed = "processed"
	OutcomeNoContent = "no_content"
	OutcomeUnchanged = "unchanged"
)

type DocumentSource interface {
	List(ctx context.Context) ([]docstore.Info, error)
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
}

type Extractor interface {
	Extract(ctx context.Context, data []byte) ([]passage.Page, error)
}

type Indexer interface {
	Index(ctx context.Context, passages []passage.Passage) error
}

type Ledger interface {
	Get(ctx context.Context, name string) (*ledger.Record, error)
	Put(ctx context.Context, r ledger.Record) error
	List(ctx context.Context) ([]ledger.Record, error)
	Reset(ctx context.Context) error
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Outcome struct {
	Name        string `json:"filename"`
	Status      string `json:"status"`
	Passages    int    `json:"passages"`
	ContentHash string `json:"content_hash"`
	Error       string `json:"error,omitempty"`
}

type ScanReport struct {
	Scanned    int               `json:"scanned"`
	Processed  int               `json:"processed"`
	NoContent  int               `json:"no_content"`
	Unchanged  int               `json:"unchanged"`
	Busy       int               `json:"busy"`
	Failed     int               `json:"failed"`
	Passages   int               `json:"passages"`
	Errors     map[string]string `json:"errors,omitempty"`
	DurationMs int64             `json:"duration_ms"`
}

type DocumentStatus struct {
	docstore.Info
	Processed   bool       `json:"processed"`
	Status      string     `json:"status"`
	Passages    int        `json:"passages"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// IndexedEvent is published after a document's passages are written.
type IndexedEvent struct {
	Name          string    `json:"filename"`
	ContentHash   string    `json:"content_hash"`
	Passages      int       `json:"passages"`
	IndexedAt     time.Time `json:"indexed_at"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

type Coordinator struct {
	source      DocumentSource
	extractor   Extractor
	builder     *passage.Builder
	indexer     Indexer
	ledger      Ledger
	publisher   EventPublisher
	concurrency int
	now         func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

type Option func(*Coordinator)

func WithPublisher(p EventPublisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func NewCoordinator(src DocumentSource, ex Extractor, b *passage.Builder, idx Indexer, l Ledger, opts ...Option) *Coordinator {
	c := &Coordinator{
		source:      src,
		extractor:   ex,
		builder:     b,
		indexer:     idx,
		ledger:      l,
		concurrency: DefaultConcurrency,
		now:         time.Now,
		inFlight:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ScanAndProcess indexes every document in the source whose content is not
// already recorded in the ledger. Failures are collected per document.
func (c *Coordinator) ScanAndProcess(ctx context.Context) (*ScanReport, error) {
	start := c.now()
	infos, err := c.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	report := &ScanReport{Scanned: len(infos)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for _, info := range infos {
		if ctx.Err() != nil {
			break
		}
		name := info.Name
		g.Go(func() error {
			out, err := c.ProcessOne(ctx, name)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrDocumentBusy):
				report.Busy++
			case err != nil:
				report.Failed++
				if report.Errors == nil {
					report.Errors = make(map[string]string)
				}
				report.Errors[name] = err.Error()
				slog.ErrorContext(ctx, "document ingestion failed", "filename", name, "error", err)
			default:
				report.add(out)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.DurationMs = c.now().Sub(start).Milliseconds()
	slog.InfoContext(ctx, "scan complete",
		"scanned", report.Scanned,
		"processed", report.Processed,
		"no_content", report.NoContent,
		"unchanged", report.Unchanged,
		"failed", report.Failed,
		"passages", report.Passages,
	)
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (r *ScanReport) add(o *Outcome) {
	switch o.Status {
	case OutcomeProcessed:
		r.Processed++
		r.Passages += o.Passages
	case OutcomeNoContent:
		r.NoContent++
	case OutcomeUnchanged:
		r.Unchanged++
	}
}

// ProcessOne indexes a single document unless the ledger already holds its
// current content hash.
func (c *Coordinator) ProcessOne(ctx context.Context, name string) (*Outcome, error) {
	if !c.claim(name) {
		return nil, ErrDocumentBusy
	}
	defer c.release(name)
	return c.process(ctx, name)
}

// AddDocument stores a new document and indexes it. The name must be a plain
// .pdf file name.
func (c *Coordinator) AddDocument(ctx context.Context, name string, data []byte) (*Outcome, error) {
	if err := docstore.ValidateName(name); err != nil {
		return nil, fmt.Errorf("%w: %q must be a .pdf file name", ErrInvalidDocument, name)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %q is empty", ErrInvalidDocument, name)
	}
	if !c.claim(name) {
		return nil, ErrDocumentBusy
	}
	defer c.release(name)

	if err := c.source.Write(ctx, name, data); err != nil {
		return nil, fmt.Errorf("store %s: %w", name, err)
	}
	slog.InfoContext(ctx, "document stored", "filename", name, "size", len(data))
	return c.process(ctx, name)
}

// ReprocessAll forgets every ledger record and scans again. Passage ids are
// deterministic so re-added passages overwrite their previous versions.
func (c *Coordinator) ReprocessAll(ctx context.Context) (*ScanReport, error) {
	if err := c.ledger.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset ledger: %w", err)
	}
	slog.InfoContext(ctx, "ledger reset, reprocessing all documents")
	return c.ScanAndProcess(ctx)
}

// Documents lists the source joined with ledger state.
func (c *Coordinator) Documents(ctx context.Context) ([]DocumentStatus, error) {
	infos, err := c.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	records, err := c.ledger.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	byName := make(map[string]ledger.Record, len(records))
	for _, r := range records {
		byName[r.Name] = r
	}

	out := make([]DocumentStatus, 0, len(infos))
	for _, info := range infos {
		st := DocumentStatus{Info: info, Status: "pending"}
		if r, ok := byName[info.Name]; ok {
			at := r.ProcessedAt
			st.Processed = true
			st.Status = string(r.Status)
			st.Passages = r.Passages
			st.ProcessedAt = &at
			st.Error = r.Error
		}
		out = append(out, st)
	}
	return out, nil
}

func (c *Coordinator) process(ctx context.Context, name string) (*Outcome, error) {
	data, err := c.source.Read(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	prev, err := c.ledger.Get(ctx, name)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return nil, fmt.Errorf("ledger lookup %s: %w", name, err)
	}
	if prev.Settled(hash) {
		return &Outcome{Name: name, Status: OutcomeUnchanged, Passages: prev.Passages, ContentHash: hash}, nil
	}

	pages, err := c.extractor.Extract(ctx, data)
	if err == nil && len(pages) == 0 {
		err = errors.New("no extractable text")
	}
	if err != nil {
		slog.WarnContext(ctx, "document has no usable content", "filename", name, "error", err)
		rec := ledger.Record{
			Name:        name,
			ContentHash: hash,
			Status:      ledger.StatusNoContent,
			Error:       err.Error(),
			ProcessedAt: c.now().UTC(),
		}
		if err := c.ledger.Put(ctx, rec); err != nil {
			return nil, fmt.Errorf("ledger update %s: %w", name, err)
		}
		return &Outcome{Name: name, Status: OutcomeNoContent, ContentHash: hash, Error: rec.Error}, nil
	}

	passages := c.builder.Build(passage.Document{
		Name:  name,
		Size:  int64(len(data)),
		Pages: pages,
	})
	if err := c.indexer.Index(ctx, passages); err != nil {
		return nil, fmt.Errorf("index %s: %w", name, err)
	}

	rec := ledger.Record{
		Name:        name,
		ContentHash: hash,
		Status:      ledger.StatusProcessed,
		Passages:    len(passages),
		ProcessedAt: c.now().UTC(),
	}
	if err := c.ledger.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("ledger update %s: %w", name, err)
	}
	slog.InfoContext(ctx, "document indexed", "filename", name, "pages", len(pages), "passages", len(passages))

	c.publish(ctx, rec)
	return &Outcome{Name: name, Status: OutcomeProcessed, Passages: len(passages), ContentHash: hash}, nil
}

func (c *Coordinator) publish(ctx context.Context, rec ledger.Record) {
	if c.publisher == nil {
		return
	}
	body, err := json.Marshal(IndexedEvent{
		Name:          rec.Name,
		ContentHash:   rec.ContentHash,
		Passages:      rec.Passages,
		IndexedAt:     rec.ProcessedAt,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		return
	}
	if err := c.publisher.Publish(config.TopicDocumentIndexed, body); err != nil {
		slog.WarnContext(ctx, "failed to publish indexed event", "filename", rec.Name, "error", err)
	}
}

func (c *Coordinator) claim(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[name]; busy {
		return false
	}
	c.inFlight[name] = struct{}{}
	return true
}

func (c *Coordinator) release(name string) {
	c.mu.Lock()
	delete(c.inFlight, name)
	c.mu.Unlock()
}
