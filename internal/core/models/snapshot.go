package models

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

var (
	ErrDuplicateWord      = errors.New("duplicate word in snapshot")
	ErrNegativePopularity = errors.New("negative popularity")
	ErrInvalidTimestamps  = errors.New("update time before create time")
)

// Snapshot is a full copy of the word list at one point in time. Operations
// on a Snapshot never modify the receiver.
type Snapshot []WordEntry

func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	copy(out, s)
	return out
}

// Find returns the position of word, matched case-insensitively.
func (s Snapshot) Find(word string) (int, bool) {
	key := Key(word)
	for i := range s {
		if s[i].Key() == key {
			return i, true
		}
	}
	return -1, false
}

// Index maps each key to the position of its first entry.
func (s Snapshot) Index() map[string]int {
	idx := make(map[string]int, len(s))
	for i := range s {
		if _, ok := idx[s[i].Key()]; !ok {
			idx[s[i].Key()] = i
		}
	}
	return idx
}

// Tombstones returns the soft-deleted entries.
func (s Snapshot) Tombstones() Snapshot {
	return s.filter(func(e WordEntry) bool { return e.Deleted })
}

// Active returns the entries that should be rendered.
func (s Snapshot) Active() Snapshot {
	return s.filter(func(e WordEntry) bool { return !e.Deleted })
}

func (s Snapshot) Words() []string {
	out := make([]string, len(s))
	for i := range s {
		out[i] = s[i].Word
	}
	return out
}

func (s Snapshot) filter(keep func(WordEntry) bool) Snapshot {
	out := Snapshot{}
	for _, e := range s {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Validate checks the per-snapshot invariants.
func (s Snapshot) Validate() error {
	seen := make(map[string]struct{}, len(s))
	for _, e := range s {
		if _, dup := seen[e.Key()]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateWord, e.Word)
		}
		seen[e.Key()] = struct{}{}
		if e.Popularity < 0 {
			return fmt.Errorf("%w: %q has %d", ErrNegativePopularity, e.Word, e.Popularity)
		}
		if !e.CreatedAt.IsZero() && e.UpdatedAt.Before(e.CreatedAt) {
			return fmt.Errorf("%w: %q", ErrInvalidTimestamps, e.Word)
		}
	}
	return nil
}

func (s Snapshot) Equal(other Snapshot) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if !s[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

// Fingerprint hashes the snapshot in order. Equal snapshots have equal
// fingerprints.
func (s Snapshot) Fingerprint() uint64 {
	h := xxhash.New()
	var buf [8]byte
	putInt := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		_, _ = h.Write(buf[:])
	}
	for _, e := range s {
		_, _ = h.WriteString(e.Word)
		_, _ = h.Write([]byte{0})
		putInt(e.OwnerID)
		putInt(int64(e.Popularity))
		putInt(stamp(e.CreatedAt))
		putInt(stamp(e.UpdatedAt))
		if e.Deleted {
			_, _ = h.Write([]byte{1})
		} else {
			_, _ = h.Write([]byte{0})
		}
	}
	return h.Sum64()
}

// Fingerprint of a single entry.
func (e WordEntry) Fingerprint() uint64 {
	return Snapshot{e}.Fingerprint()
}

// stamp avoids UnixNano on the zero time, which overflows.
func stamp(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
