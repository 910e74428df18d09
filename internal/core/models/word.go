package models

import (
	"strings"
	"time"
)

// WordEntry is one tracked word. Word keeps the casing it was first added
// with; matching always goes through Key.
type WordEntry struct {
	Word       string    `json:"word"`
	OwnerID    int64     `json:"user_id"`
	Popularity int       `json:"star"`
	CreatedAt  time.Time `json:"create_time"`
	UpdatedAt  time.Time `json:"update_time"`
	Deleted    bool      `json:"del_flag"`
}

// Key returns the case-insensitive identity of a word.
func Key(word string) string {
	return strings.ToLower(strings.TrimSpace(word))
}

func (e WordEntry) Key() string {
	return Key(e.Word)
}

// Equal compares entries field by field, timestamps by instant.
func (e WordEntry) Equal(other WordEntry) bool {
	return e.Word == other.Word &&
		e.OwnerID == other.OwnerID &&
		e.Popularity == other.Popularity &&
		e.Deleted == other.Deleted &&
		e.CreatedAt.Equal(other.CreatedAt) &&
		e.UpdatedAt.Equal(other.UpdatedAt)
}

// Identity is the caller a sync request is made on behalf of.
type Identity struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

func (i Identity) IsZero() bool {
	return i.ID == 0 || strings.TrimSpace(i.Name) == ""
}
