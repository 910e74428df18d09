package server

import (
	"fmt"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/zeusync/wordsync/internal/core/storage"
	"github.com/zeusync/wordsync/internal/core/storage/interfaces"
	"github.com/zeusync/wordsync/internal/core/storage/memory"
	"github.com/zeusync/wordsync/internal/core/sync/metrics"
)

// StoreOpener opens the store that holds one user's word list.
type StoreOpener func(userID int64) (interfaces.Store, error)

// NewStoreOpener derives per-user stores from opts. For file and sqlite
// drivers Path names a directory with one document per user; for redis the
// key is used as a prefix.
func NewStoreOpener(opts storage.Options) (StoreOpener, error) {
	switch opts.Driver {
	case "", storage.DriverMemory:
		return func(int64) (interfaces.Store, error) {
			return memory.New(nil), nil
		}, nil
	case storage.DriverFile, storage.DriverSQLite:
		if opts.Path == "" {
			return nil, errors.Wrapf(ErrInvalidConfig, "%s storage needs a directory", opts.Driver)
		}
		ext := ".json"
		if opts.Driver == storage.DriverSQLite {
			ext = ".db"
		}
		return func(userID int64) (interfaces.Store, error) {
			per := opts
			per.Path = filepath.Join(opts.Path, strconv.FormatInt(userID, 10)+ext)
			return storage.Open(per)
		}, nil
	case storage.DriverRedis:
		if opts.RedisURL == "" {
			return nil, errors.Wrap(ErrInvalidConfig, "redis storage needs a url")
		}
		prefix := opts.RedisKey
		if prefix == "" {
			prefix = "wordsync:user"
		}
		return func(userID int64) (interfaces.Store, error) {
			per := opts
			per.RedisKey = fmt.Sprintf("%s:%d", prefix, userID)
			return storage.Open(per)
		}, nil
	default:
		return nil, errors.Wrapf(storage.ErrUnknownDriver, "%q", opts.Driver)
	}
}

// userStores lazily opens one guarded store per user and keeps it open
// until Close.
type userStores struct {
	open StoreOpener

	mu      sync.Mutex
	guards  map[int64]*storage.Guard
	metered map[int64]*metrics.Wrapper
}

func newUserStores(open StoreOpener) *userStores {
	return &userStores{
		open:    open,
		guards:  make(map[int64]*storage.Guard),
		metered: make(map[int64]*metrics.Wrapper),
	}
}

func (u *userStores) get(userID int64) (*storage.Guard, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if g, ok := u.guards[userID]; ok {
		return g, nil
	}
	store, err := u.open(userID)
	if err != nil {
		return nil, errors.Wrapf(err, "open store for user %d", userID)
	}
	w := metrics.NewMetricsWrapper(store)
	g := storage.NewGuard(w)
	u.guards[userID] = g
	u.metered[userID] = w
	return g, nil
}

// storeMetrics sums the counters of every open store.
func (u *userStores) storeMetrics() metrics.StoreMetrics {
	u.mu.Lock()
	defer u.mu.Unlock()

	var total metrics.StoreMetrics
	for _, w := range u.metered {
		total = total.Add(w.GetMetrics())
	}
	return total
}

func (u *userStores) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.guards)
}

func (u *userStores) close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	var first error
	for id, g := range u.guards {
		if err := g.Close(); err != nil && first == nil {
			first = err
		}
		delete(u.guards, id)
		delete(u.metered, id)
	}
	return first
}
