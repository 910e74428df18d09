// Package storage opens the configured snapshot backend and serializes
// read-modify-write cycles over it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zeusync/wordsync/internal/core/models"
	"github.com/zeusync/wordsync/internal/core/observability/log"
	"github.com/zeusync/wordsync/internal/core/storage/file"
	"github.com/zeusync/wordsync/internal/core/storage/interfaces"
	"github.com/zeusync/wordsync/internal/core/storage/memory"
	"github.com/zeusync/wordsync/internal/core/storage/redis"
	"github.com/zeusync/wordsync/internal/core/storage/sqlite"
)

const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

var ErrUnknownDriver = errors.New("unknown storage driver")

type Options struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	RedisURL string `yaml:"redis_url"`
	RedisKey string `yaml:"redis_key"`
}

// Open returns the backend named by opts.Driver.
func Open(opts Options) (interfaces.Store, error) {
	switch opts.Driver {
	case "", DriverMemory:
		return memory.New(nil), nil
	case DriverFile:
		return file.New(opts.Path)
	case DriverSQLite:
		return sqlite.Open(opts.Path)
	case DriverRedis:
		return redis.Open(opts.RedisURL, opts.RedisKey)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}

// LoadOrEmpty is for readers that only render: any failure is logged and
// treated as an empty list.
func LoadOrEmpty(ctx context.Context, store interfaces.Store, logger log.Log) models.Snapshot {
	snapshot, err := store.Load(ctx)
	if err != nil {
		logger.Warn("Failed to load word list, treating as empty", log.Error(err))
		return models.Snapshot{}
	}
	return snapshot
}

// UpdateFunc derives the next snapshot from the current one. Returning
// changed=false skips the commit.
type UpdateFunc func(current models.Snapshot) (next models.Snapshot, changed bool, err error)

// Guard wraps a Store so that every Update runs load, modify and commit to
// completion before the next one starts. Plain Load and Commit pass through.
type Guard struct {
	interfaces.Store
	mu sync.Mutex
}

func NewGuard(store interfaces.Store) *Guard {
	return &Guard{Store: store}
}

// Update returns the snapshot that is persisted once it finishes. On error
// the store is untouched.
func (g *Guard) Update(ctx context.Context, fn UpdateFunc) (models.Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	current, err := g.Store.Load(ctx)
	if err != nil {
		return nil, err
	}

	next, changed, err := fn(current.Clone())
	if err != nil {
		return current, err
	}
	if !changed {
		return current, nil
	}

	if err := g.Store.Commit(ctx, next); err != nil {
		return current, err
	}
	return next.Clone(), nil
}

// Unwrap exposes the underlying backend, e.g. to reach a WatchableStore.
func (g *Guard) Unwrap() interfaces.Store {
	return g.Store
}
