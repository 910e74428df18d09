// Package redis keeps the snapshot as one JSON value under a single key.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/zeusync/wordsync/internal/core/models"
	"github.com/zeusync/wordsync/internal/core/storage/interfaces"
)

const (
	backend    = "redis"
	DefaultKey = "wordsync:wordlist"
)

var _ interfaces.Store = (*Store)(nil)

type Store struct {
	client *goredis.Client
	key    string
}

// Open connects to redisURL and verifies the connection.
func Open(redisURL, key string) (*Store, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis store: parse url: %w", err)
	}

	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis store: connect: %w", err)
	}

	return NewWithClient(client, key), nil
}

func NewWithClient(client *goredis.Client, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{client: client, key: key}
}

func (s *Store) Load(ctx context.Context) (models.Snapshot, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return models.Snapshot{}, nil
	}
	if err != nil {
		return nil, interfaces.LoadError(backend, err)
	}

	snapshot := models.Snapshot{}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, interfaces.LoadError(backend, fmt.Errorf("%w: %v", interfaces.ErrCorrupted, err))
	}
	if snapshot == nil {
		// a stored JSON null
		snapshot = models.Snapshot{}
	}
	return snapshot, nil
}

// Commit overwrites the key; SET is atomic so readers never see a partial list.
func (s *Store) Commit(ctx context.Context, snapshot models.Snapshot) error {
	data, err := json.Marshal(snapshot.Clone())
	if err != nil {
		return interfaces.CommitError(backend, err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return interfaces.CommitError(backend, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
