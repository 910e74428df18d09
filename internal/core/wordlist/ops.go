// Package wordlist applies single-entry edits to a word list snapshot.
//
// The operations are pure: they take a snapshot and return a new one,
// leaving the input untouched so it can be read concurrently.
package wordlist

import (
	"errors"
	"strings"
	"time"

	"github.com/zeusync/wordsync/internal/core/models"
)

var ErrEmptyWord = errors.New("word is empty")

// Outcome describes what an operation did to the snapshot.
type Outcome uint8

const (
	OutcomeUnchanged Outcome = iota
	OutcomeAdded
	OutcomeReactivated
	OutcomeAlreadyPresent
	OutcomeRemoved
	OutcomeAdjusted
)

var outcomeNames = [...]string{
	OutcomeUnchanged:      "unchanged",
	OutcomeAdded:          "added",
	OutcomeReactivated:    "reactivated",
	OutcomeAlreadyPresent: "already_present",
	OutcomeRemoved:        "removed",
	OutcomeAdjusted:       "adjusted",
}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// Changed reports whether the snapshot differs from the input.
func (o Outcome) Changed() bool {
	switch o {
	case OutcomeAdded, OutcomeReactivated, OutcomeRemoved, OutcomeAdjusted:
		return true
	default:
		return false
	}
}

// AddWord inserts text, or reactivates its tombstone. An active entry with
// the same key is left alone.
func AddWord(s models.Snapshot, text string, ownerID int64, now time.Time) (models.Snapshot, Outcome, error) {
	word := strings.TrimSpace(text)
	if word == "" {
		return s, OutcomeUnchanged, ErrEmptyWord
	}

	i, found := s.Find(word)
	if !found {
		out := make(models.Snapshot, len(s), len(s)+1)
		copy(out, s)
		out = append(out, models.WordEntry{
			Word:      word,
			OwnerID:   ownerID,
			CreatedAt: now,
			UpdatedAt: now,
		})
		return out, OutcomeAdded, nil
	}

	if !s[i].Deleted {
		return s, OutcomeAlreadyPresent, nil
	}

	out := s.Clone()
	out[i].Deleted = false
	out[i].Popularity = 0
	out[i].UpdatedAt = advance(out[i].UpdatedAt, now)
	return out, OutcomeReactivated, nil
}

// RemoveWord tombstones an active entry.
func RemoveWord(s models.Snapshot, text string, now time.Time) (models.Snapshot, Outcome, error) {
	word := strings.TrimSpace(text)
	if word == "" {
		return s, OutcomeUnchanged, ErrEmptyWord
	}

	i, found := s.Find(word)
	if !found || s[i].Deleted {
		return s, OutcomeUnchanged, nil
	}

	out := s.Clone()
	out[i].Deleted = true
	out[i].Popularity = 0
	out[i].UpdatedAt = advance(out[i].UpdatedAt, now)
	return out, OutcomeRemoved, nil
}

// AdjustPopularity adds delta to the entry's popularity, flooring at zero.
func AdjustPopularity(s models.Snapshot, text string, delta int, now time.Time) (models.Snapshot, Outcome, error) {
	word := strings.TrimSpace(text)
	if word == "" {
		return s, OutcomeUnchanged, ErrEmptyWord
	}

	i, found := s.Find(word)
	if !found {
		return s, OutcomeUnchanged, nil
	}

	out := s.Clone()
	out[i].Popularity = max(0, out[i].Popularity+delta)
	out[i].UpdatedAt = advance(out[i].UpdatedAt, now)
	return out, OutcomeAdjusted, nil
}

// advance keeps updated_at from moving backwards when the clock does.
func advance(prev, now time.Time) time.Time {
	if now.Before(prev) {
		return prev
	}
	return now
}
