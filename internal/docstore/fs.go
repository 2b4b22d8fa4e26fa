package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 500 * time.Millisecond

// FileStore keeps documents as files in one directory.
type FileStore struct {
	dir      string
	debounce time.Duration
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create documents dir: %w", err)
	}
	return &FileStore{dir: dir, debounce: DefaultDebounce}, nil
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) List(_ context.Context) ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isDocument(e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{Name: e.Name(), Size: fi.Size(), Modified: fi.ModTime().UTC()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *FileStore) Read(_ context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name)) // #nosec G304 -- name is validated as a base name
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return data, err
}

// Write stores data under name. The file appears under its final name only
// once it is complete.
func (s *FileStore) Write(_ context.Context, name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o640); err != nil {
		return err
	}
	return os.Rename(tmpName, filepath.Join(s.dir, name))
}

// Watch calls fn for every PDF created, written or renamed into the
// directory, once changes to that file have been quiet for the debounce
// interval. It blocks until ctx is done.
func (s *FileStore) Watch(ctx context.Context, fn func(name string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(s.dir); err != nil {
		return err
	}

	var (
		mu     sync.Mutex
		timers = make(map[string]*time.Timer)
	)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Base(ev.Name)
			if !isDocument(name) {
				continue
			}

			mu.Lock()
			if t, ok := timers[name]; ok {
				t.Stop()
			}
			timers[name] = time.AfterFunc(s.debounce, func() {
				mu.Lock()
				delete(timers, name)
				mu.Unlock()
				s.notify(ctx, name, fn)
			})
			mu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "document watcher error", "dir", s.dir, "error", err)
		}
	}
}

// notify runs when a debounce timer fires. A timer already firing when Watch
// returns must not reach fn.
func (s *FileStore) notify(ctx context.Context, name string, fn func(name string)) {
	if ctx.Err() != nil {
		return
	}
	if _, err := os.Stat(filepath.Join(s.dir, name)); err != nil {
		return
	}
	fn(name)
}
