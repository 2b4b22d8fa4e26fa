package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docsearch/apps/backend/internal/config"
	"docsearch/apps/backend/internal/docstore"
	"docsearch/apps/backend/internal/ledger"
	"docsearch/apps/backend/internal/passage"
	"docsearch/apps/backend/internal/text"
)

type fakeSource struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func newFakeSource(docs map[string]string) *fakeSource {
	s := &fakeSource{docs: make(map[string][]byte)}
	for k, v := range docs {
		s.docs[k] = []byte(v)
	}
	return s
}

func (s *fakeSource) List(_ context.Context) ([]docstore.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []docstore.Info
	for name, data := range s.docs {
		out = append(out, docstore.Info{Name: name, Size: int64(len(data))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *fakeSource) Read(_ context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[name]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return d, nil
}

func (s *fakeSource) Write(_ context.Context, name string, data []byte) error {
	s.mu.Lock()
	s.docs[name] = data
	s.mu.Unlock()
	return nil
}

// textExtractor treats the document bytes as a single page of text. Bytes
// starting with "!" fail to extract.
type textExtractor struct{}

func (textExtractor) Extract(_ context.Context, data []byte) ([]passage.Page, error) {
	s := string(data)
	if len(s) > 0 && s[0] == '!' {
		return nil, errors.New("corrupt")
	}
	if s == "" {
		return nil, nil
	}
	return []passage.Page{{Number: 1, Text: s}}, nil
}

type fakeIndexer struct {
	mu    sync.Mutex
	byID  map[string]passage.Passage
	calls int
	err   error
	gate  chan struct{}
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{byID: make(map[string]passage.Passage)}
}

func (f *fakeIndexer) Index(_ context.Context, ps []passage.Passage) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	for _, p := range ps {
		f.byID[p.ID] = p
	}
	return nil
}

func (f *fakeIndexer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byID)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, body []byte) error {
	return m.Called(topic, body).Error(0)
}

func newTestCoordinator(t *testing.T, src DocumentSource, idx Indexer, l Ledger, opts ...Option) *Coordinator {
	t.Helper()
	seg, err := text.NewSegmenter(40, 5)
	require.NoError(t, err)
	return NewCoordinator(src, textExtractor{}, passage.NewBuilder(seg), idx, l, opts...)
}

const rhelText = "Install RHEL 9 with dnf and configure the network interface using nmcli for the cluster"

func TestScanAndProcess_IndexesOnceAndSkipsUnchanged(t *testing.T) {
	src := newFakeSource(map[string]string{
		"a.pdf": rhelText,
		"b.pdf": "Configure SELinux policies and firewalld zones on RHEL 8",
	})
	idx := newFakeIndexer()
	l := ledger.NewMemoryLedger()
	c := newTestCoordinator(t, src, idx, l)

	report, err := c.ScanAndProcess(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, idx.count(), report.Passages)
	assert.Equal(t, 2, idx.calls)

	rec, err := l.Get(context.Background(), "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusProcessed, rec.Status)
	assert.Len(t, rec.ContentHash, 64)

	report, err = c.ScanAndProcess(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Unchanged)
	assert.Equal(t, 0, report.Processed)
	assert.Equal(t, 2, idx.calls)
}

func TestScanAndProcess_ContentChangeReindexes(t *testing.T) {
	src := newFakeSource(map[string]string{"a.pdf": rhelText})
	idx := newFakeIndexer()
	c := newTestCoordinator(t, src, idx, ledger.NewMemoryLedger())

	_, err := c.ScanAndProcess(context.Background())
	require.NoError(t, err)

	require.NoError(t, src.Write(context.Background(), "a.pdf", []byte(rhelText+" again")))
	report, err := c.ScanAndProcess(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 2, idx.calls)
}

func TestScanAndProcess_NoContentIsRecordedNotRetried(t *testing.T) {
	src := newFakeSource(map[string]string{
		"broken.pdf": "!garbage",
		"empty.pdf":  "",
	})
	idx := newFakeIndexer()
	l := ledger.NewMemoryLedger()
	c := newTestCoordinator(t, src, idx, l)

	report, err := c.ScanAndProcess(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.NoContent)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 0, idx.calls)

	rec, err := l.Get(context.Background(), "broken.pdf")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusNoContent, rec.Status)
	assert.Equal(t, "corrupt", rec.Error)

	report, err = c.ScanAndProcess(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Unchanged)
}

func TestScanAndProcess_IndexFailureLeavesNoRecord(t *testing.T) {
	src := newFakeSource(map[string]string{"a.pdf": rhelText})
	idx := newFakeIndexer()
	idx.err = errors.New("index down")
	l := ledger.NewMemoryLedger()
	c := newTestCoordinator(t, src, idx, l)

	report, err := c.ScanAndProcess(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Errors["a.pdf"], "index down")

	_, err = l.Get(context.Background(), "a.pdf")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	idx.err = nil
	report, err = c.ScanAndProcess(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
}

func TestReprocessAll_OverwritesWithoutGrowth(t *testing.T) {
	src := newFakeSource(map[string]string{"a.pdf": rhelText})
	idx := newFakeIndexer()
	c := newTestCoordinator(t, src, idx, ledger.NewMemoryLedger())

	_, err := c.ScanAndProcess(context.Background())
	require.NoError(t, err)
	before := idx.count()
	require.Positive(t, before)

	report, err := c.ReprocessAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, before, idx.count())
	assert.Equal(t, 2, idx.calls)
}

func TestAddDocument(t *testing.T) {
	src := newFakeSource(nil)
	idx := newFakeIndexer()
	pub := new(MockPublisher)
	pub.On("Publish", config.TopicDocumentIndexed, mock.Anything).Return(nil).Once()
	c := newTestCoordinator(t, src, idx, ledger.NewMemoryLedger(), WithPublisher(pub))

	out, err := c.AddDocument(context.Background(), "guide.pdf", []byte(rhelText))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, out.Status)
	assert.Positive(t, out.Passages)

	stored, err := src.Read(context.Background(), "guide.pdf")
	require.NoError(t, err)
	assert.Equal(t, rhelText, string(stored))

	pub.AssertExpectations(t)
	var evt IndexedEvent
	require.NoError(t, json.Unmarshal(pub.Calls[0].Arguments.Get(1).([]byte), &evt))
	assert.Equal(t, "guide.pdf", evt.Name)
	assert.Equal(t, out.Passages, evt.Passages)
}

func TestAddDocument_InvalidName(t *testing.T) {
	c := newTestCoordinator(t, newFakeSource(nil), newFakeIndexer(), ledger.NewMemoryLedger())

	for _, name := range []string{"notes.txt", "../escape.pdf", "", "dir/file.pdf"} {
		_, err := c.AddDocument(context.Background(), name, []byte("x"))
		assert.ErrorIs(t, err, ErrInvalidDocument, name)
	}
}

func TestAddDocument_BusyWhileProcessing(t *testing.T) {
	src := newFakeSource(nil)
	idx := newFakeIndexer()
	idx.gate = make(chan struct{})
	c := newTestCoordinator(t, src, idx, ledger.NewMemoryLedger())

	done := make(chan error, 1)
	go func() {
		_, err := c.AddDocument(context.Background(), "guide.pdf", []byte(rhelText))
		done <- err
	}()

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		_, ok := c.inFlight["guide.pdf"]
		return ok
	}, time.Second, 5*time.Millisecond)

	_, err := c.ProcessOne(context.Background(), "guide.pdf")
	assert.ErrorIs(t, err, ErrDocumentBusy)

	close(idx.gate)
	require.NoError(t, <-done)
}

func TestProcessOne_PublishFailureIsNotFatal(t *testing.T) {
	src := newFakeSource(map[string]string{"a.pdf": rhelText})
	pub := new(MockPublisher)
	pub.On("Publish", config.TopicDocumentIndexed, mock.Anything).Return(errors.New("nsqd gone"))
	c := newTestCoordinator(t, src, newFakeIndexer(), ledger.NewMemoryLedger(), WithPublisher(pub))

	out, err := c.ProcessOne(context.Background(), "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, out.Status)
}

func TestProcessOne_Missing(t *testing.T) {
	c := newTestCoordinator(t, newFakeSource(nil), newFakeIndexer(), ledger.NewMemoryLedger())
	_, err := c.ProcessOne(context.Background(), "nope.pdf")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestDocuments_JoinsLedger(t *testing.T) {
	src := newFakeSource(map[string]string{"a.pdf": rhelText, "b.pdf": "!bad"})
	c := newTestCoordinator(t, src, newFakeIndexer(), ledger.NewMemoryLedger())

	docs, err := c.Documents(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "pending", docs[0].Status)
	assert.False(t, docs[0].Processed)

	_, err = c.ScanAndProcess(context.Background())
	require.NoError(t, err)

	docs, err = c.Documents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "processed", docs[0].Status)
	assert.Positive(t, docs[0].Passages)
	assert.NotNil(t, docs[0].ProcessedAt)
	assert.Equal(t, "no_content", docs[1].Status)
	assert.Equal(t, "corrupt", docs[1].Error)
}

func TestScanAndProcess_ConcurrencyLimit(t *testing.T) {
	docs := map[string]string{}
	for _, n := range []string{"a", "b", "c", "d", "e", "f"} {
		docs[n+".pdf"] = rhelText + " " + n
	}
	src := newFakeSource(docs)
	idx := &limitIndexer{fakeIndexer: newFakeIndexer()}
	c := newTestCoordinator(t, src, idx, ledger.NewMemoryLedger(), WithConcurrency(2))

	report, err := c.ScanAndProcess(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, report.Processed)
	assert.LessOrEqual(t, idx.peak, 2)
}

type limitIndexer struct {
	*fakeIndexer
	mu      sync.Mutex
	current int
	peak    int
}

func (l *limitIndexer) Index(ctx context.Context, ps []passage.Passage) error {
	l.mu.Lock()
	l.current++
	l.peak = max(l.peak, l.current)
	l.mu.Unlock()

	time.Sleep(10 * time.Millisecond)
	err := l.fakeIndexer.Index(ctx, ps)

	l.mu.Lock()
	l.current--
	l.mu.Unlock()
	return err
}

func TestScanAndProcess_RestartWithVolatileIndexReindexes(t *testing.T) {
	src := newFakeSource(map[string]string{"a.pdf": rhelText})

	for run := 1; run <= 2; run++ {
		// each process lifetime starts with an empty index and a ledger of the same lifetime
		idx := newFakeIndexer()
		c := newTestCoordinator(t, src, idx, ledger.NewMemoryLedger())

		report, err := c.ScanAndProcess(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Processed, "run %d", run)
		assert.Zero(t, report.Unchanged, "run %d", run)
		assert.Positive(t, idx.count(), "run %d", run)
	}
}
