package interfaces

import (
	"context"
	"errors"
	"fmt"

	"github.com/zeusync/wordsync/internal/core/models"
)

var (
	ErrStoreClosed = errors.New("store is closed")
	ErrCorrupted   = errors.New("stored snapshot is corrupted")
)

// Store persists exactly one snapshot. Commit replaces it as a whole; a
// concurrent Load observes either the previous or the new snapshot.
type Store interface {
	// Load returns the persisted snapshot or an empty one when nothing has
	// been committed yet.
	Load(ctx context.Context) (models.Snapshot, error)
	// Commit atomically replaces the persisted snapshot.
	Commit(ctx context.Context, snapshot models.Snapshot) error
	Close() error
}

// WatchableStore reports commits made by other processes.
type WatchableStore interface {
	Store
	Watch(ctx context.Context) (<-chan struct{}, error)
}

// StoreError is a persistence failure. The snapshot handed to a failed
// Commit is still valid and can be retried.
type StoreError struct {
	Op      string
	Backend string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s store %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func LoadError(backend string, err error) error {
	return &StoreError{Op: "load", Backend: backend, Err: err}
}

func CommitError(backend string, err error) error {
	return &StoreError{Op: "commit", Backend: backend, Err: err}
}
