// Package memory keeps the snapshot in process memory.
package memory

import (
	"context"
	"sync"

	"github.com/zeusync/wordsync/internal/core/models"
	"github.com/zeusync/wordsync/internal/core/storage/interfaces"
)

var _ interfaces.Store = (*Store)(nil)

type Store struct {
	mu       sync.RWMutex
	snapshot models.Snapshot
	closed   bool
	commits  int
}

func New(initial models.Snapshot) *Store {
	return &Store{snapshot: initial.Clone()}
}

func (s *Store) Load(_ context.Context) (models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, interfaces.LoadError("memory", interfaces.ErrStoreClosed)
	}
	return s.snapshot.Clone(), nil
}

func (s *Store) Commit(_ context.Context, snapshot models.Snapshot) error {
	next := snapshot.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return interfaces.CommitError("memory", interfaces.ErrStoreClosed)
	}
	s.snapshot = next
	s.commits++
	return nil
}

// Commits reports how many commits succeeded.
func (s *Store) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
