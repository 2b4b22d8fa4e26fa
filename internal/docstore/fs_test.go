package docstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"guide.pdf", true},
		{"Guide.PDF", true},
		{"rhel-9 networking.pdf", true},
		{"", false},
		{"notes.txt", false},
		{"../escape.pdf", false},
		{"dir/nested.pdf", false},
		{`dir\nested.pdf`, false},
		{".hidden.pdf", false},
		{"pdf", false},
	}
	for _, tt := range tests {
		err := ValidateName(tt.name)
		if tt.ok {
			assert.NoError(t, err, tt.name)
		} else {
			assert.ErrorIs(t, err, ErrInvalidName, tt.name)
		}
	}
}

func TestFileStore_ListReadWrite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "b.pdf", []byte("second")))
	require.NoError(t, s.Write(ctx, "a.pdf", []byte("first")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".upload-123"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.pdf"), 0o750))

	infos, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "a.pdf", infos[0].Name)
	assert.Equal(t, int64(5), infos[0].Size)
	assert.Equal(t, "b.pdf", infos[1].Name)
	assert.False(t, infos[1].Modified.IsZero())

	data, err := s.Read(ctx, "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)

	require.NoError(t, s.Write(ctx, "a.pdf", []byte("replaced")))
	data, err = s.Read(ctx, "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), data)

	_, err = s.Read(ctx, "missing.pdf")
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.ErrorIs(t, s.Write(ctx, "../x.pdf", nil), ErrInvalidName)
	_, err = s.Read(ctx, "../x.pdf")
	assert.ErrorIs(t, err, ErrInvalidName)

	leftovers, err := filepath.Glob(filepath.Join(dir, ".upload-*"))
	require.NoError(t, err)
	assert.Len(t, leftovers, 1) // only the one planted above
}

func TestFileStore_Watch(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	s.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen []string
	)
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, func(name string) {
			mu.Lock()
			seen = append(seen, name)
			mu.Unlock()
		})
	}()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, s.Write(context.Background(), "new.pdf", []byte("data")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"new.pdf"}, seen)
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestFileStore_NotifyAfterCancel(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), "guide.pdf", []byte("data")))

	var calls []string
	record := func(name string) { calls = append(calls, name) }

	s.notify(context.Background(), "guide.pdf", record)
	s.notify(context.Background(), "deleted.pdf", record)
	assert.Equal(t, []string{"guide.pdf"}, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.notify(ctx, "guide.pdf", record)
	assert.Equal(t, []string{"guide.pdf"}, calls)
}
