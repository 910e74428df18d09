package server

import "github.com/zeusync/wordsync/internal/core/models"

// Merge folds an incoming snapshot into the stored one. For a key both
// sides know, the entry with the later update_time is kept; on a tie the
// stored entry stays. Keys only the sender knows are appended in the
// sender's order. changed reports whether the result differs from stored.
func Merge(stored, incoming models.Snapshot) (merged models.Snapshot, changed bool) {
	merged = make(models.Snapshot, 0, len(stored)+len(incoming))
	idx := make(map[string]int, len(stored)+len(incoming))

	for _, e := range stored {
		if _, dup := idx[e.Key()]; dup {
			changed = true
			continue
		}
		idx[e.Key()] = len(merged)
		merged = append(merged, e)
	}

	for _, e := range incoming {
		i, ok := idx[e.Key()]
		if !ok {
			idx[e.Key()] = len(merged)
			merged = append(merged, e)
			changed = true
			continue
		}
		if e.UpdatedAt.After(merged[i].UpdatedAt) {
			merged[i] = e
			changed = true
		}
	}
	return merged, changed
}
