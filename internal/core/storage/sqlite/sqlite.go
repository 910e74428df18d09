// Package sqlite stores the snapshot in a SQLite database (pure Go driver).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zeusync/wordsync/internal/core/models"
	"github.com/zeusync/wordsync/internal/core/storage/interfaces"
)

const backend = "sqlite"

var _ interfaces.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS words (
	position    INTEGER NOT NULL,
	word        TEXT    NOT NULL,
	word_key    TEXT    NOT NULL,
	user_id     INTEGER NOT NULL,
	star        INTEGER NOT NULL DEFAULT 0 CHECK (star >= 0),
	create_time TEXT    NOT NULL,
	update_time TEXT    NOT NULL,
	del_flag    INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_words_key ON words(word_key);
`

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite store: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}

	// SQLite has a single writer; one connection also keeps :memory: shared
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite store: enable WAL: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store: init schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Load(ctx context.Context) (models.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT word, user_id, star, create_time, update_time, del_flag
		FROM words ORDER BY position`)
	if err != nil {
		return nil, interfaces.LoadError(backend, err)
	}
	defer rows.Close()

	snapshot := models.Snapshot{}
	for rows.Next() {
		var (
			e                models.WordEntry
			created, updated string
			deleted          int
		)
		if err := rows.Scan(&e.Word, &e.OwnerID, &e.Popularity, &created, &updated, &deleted); err != nil {
			return nil, interfaces.LoadError(backend, err)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, interfaces.LoadError(backend, err)
		}
		if e.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, interfaces.LoadError(backend, err)
		}
		e.Deleted = deleted != 0
		snapshot = append(snapshot, e)
	}
	if err := rows.Err(); err != nil {
		return nil, interfaces.LoadError(backend, err)
	}
	return snapshot, nil
}

// Commit replaces all rows inside one transaction.
func (s *Store) Commit(ctx context.Context, snapshot models.Snapshot) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return interfaces.CommitError(backend, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM words`); err != nil {
		return interfaces.CommitError(backend, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO words (position, word, word_key, user_id, star, create_time, update_time, del_flag)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return interfaces.CommitError(backend, err)
	}
	defer stmt.Close()

	for i, e := range snapshot {
		deleted := 0
		if e.Deleted {
			deleted = 1
		}
		if _, err = stmt.ExecContext(ctx, i, e.Word, e.Key(), e.OwnerID, e.Popularity,
			formatTime(e.CreatedAt), formatTime(e.UpdatedAt), deleted); err != nil {
			return interfaces.CommitError(backend, fmt.Errorf("insert %q: %w", e.Word, err))
		}
	}

	if err = tx.Commit(); err != nil {
		return interfaces.CommitError(backend, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
