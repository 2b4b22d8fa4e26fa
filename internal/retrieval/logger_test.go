package retrieval

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryLogger_ThreadSafety(t *testing.T) {
	var buf bytes.Buffer
	logger := NewQueryLogger(&buf)

	concurrency := 50
	iterations := 100
	var wg sync.WaitGroup

	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				logger.Log(QueryLogEntry{Query: "test", Duration: time.Millisecond})
			}
		}()
	}
	wg.Wait()

	decoder := json.NewDecoder(&buf)
	count := 0
	for decoder.More() {
		var entry QueryLogEntry
		require.NoError(t, decoder.Decode(&entry), "entry %d", count)
		assert.Equal(t, int64(1), entry.LatencyMs)
		count++
	}
	assert.Equal(t, concurrency*iterations, count)
}

func TestNewFileQueryLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "queries.jsonl")
	logger, err := NewFileQueryLogger(path)
	require.NoError(t, err)

	logger.Log(QueryLogEntry{Query: "podman", NumResults: 2})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry QueryLogEntry
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "podman", entry.Query)
	assert.Equal(t, 2, entry.NumResults)
	assert.False(t, entry.Timestamp.IsZero())
}
