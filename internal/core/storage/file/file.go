// Package file persists the snapshot as a JSON document on disk.
//
// Commits write a temporary file in the target directory and rename it over
// the previous document, so readers see either the old or the new list.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/zeusync/wordsync/internal/core/models"
	"github.com/zeusync/wordsync/internal/core/storage/interfaces"
)

const (
	backend       = "file"
	formatVersion = 1
)

var _ interfaces.WatchableStore = (*Store)(nil)

type document struct {
	Version int             `json:"version"`
	Data    models.Snapshot `json:"data"`
}

type Store struct {
	path string

	// mu serializes writers within this process; rename keeps readers in
	// other processes consistent.
	mu          sync.Mutex
	lastWritten atomic.Uint64
	closed      atomic.Bool

	watchMu  sync.Mutex
	watchers []*fsnotify.Watcher
}

// New opens a file store at path. The parent directory is created if needed.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("file store: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("file store: create directory: %w", err)
	}
	return &Store{path: path}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Load(_ context.Context) (models.Snapshot, error) {
	if s.closed.Load() {
		return nil, interfaces.LoadError(backend, interfaces.ErrStoreClosed)
	}
	return s.read()
}

func (s *Store) read() (models.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return models.Snapshot{}, nil
	}
	if err != nil {
		return nil, interfaces.LoadError(backend, err)
	}
	if len(data) == 0 {
		return models.Snapshot{}, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, interfaces.LoadError(backend, fmt.Errorf("%w: %v", interfaces.ErrCorrupted, err))
	}
	if doc.Data == nil {
		doc.Data = models.Snapshot{}
	}
	return doc.Data, nil
}

func (s *Store) Commit(_ context.Context, snapshot models.Snapshot) error {
	if s.closed.Load() {
		return interfaces.CommitError(backend, interfaces.ErrStoreClosed)
	}

	data, err := json.MarshalIndent(document{Version: formatVersion, Data: snapshot.Clone()}, "", "  ")
	if err != nil {
		return interfaces.CommitError(backend, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// recorded before the rename so the watcher never sees our document
	// without knowing it is ours
	prev := s.lastWritten.Swap(snapshot.Fingerprint())
	if err := writeAtomic(s.path, data); err != nil {
		s.lastWritten.Store(prev)
		return interfaces.CommitError(backend, err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// Watch signals on the returned channel whenever the document changes on
// disk through a writer other than this Store. The channel is closed when
// ctx is done or the store is closed.
func (s *Store) Watch(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("file store: create watcher: %w", err)
	}
	// the directory is watched because rename replaces the file's inode
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("file store: watch %s: %w", filepath.Dir(s.path), err)
	}

	s.watchMu.Lock()
	s.watchers = append(s.watchers, watcher)
	s.watchMu.Unlock()

	out := make(chan struct{}, 1)
	target := filepath.Clean(s.path)

	go func() {
		defer close(out)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
					continue
				}
				if s.ownWrite() {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
					// a signal is already pending
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return out, nil
}

// ownWrite reports whether the document on disk is the one this Store last
// committed.
func (s *Store) ownWrite() bool {
	snapshot, err := s.read()
	if err != nil {
		return false
	}
	return snapshot.Fingerprint() == s.lastWritten.Load()
}

func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	var errs []error
	for _, w := range s.watchers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.watchers = nil
	return errors.Join(errs...)
}
