// Package resolver merges the server's word list with local state.
//
// The server is authoritative for every word it reports. The client is
// authoritative only for deletions the server has not seen yet.
package resolver

import (
	"fmt"
	"strings"

	"github.com/zeusync/wordsync/internal/core/models"
)

type Strategy uint8

const (
	// StrategyServerWins takes the remote entry for every shared key.
	StrategyServerWins Strategy = iota
	// StrategyLastWriterWins takes whichever side has the later
	// update_time for a shared key. Ties go to the server.
	StrategyLastWriterWins
)

func (s Strategy) String() string {
	switch s {
	case StrategyServerWins:
		return "server_wins"
	case StrategyLastWriterWins:
		return "last_writer_wins"
	default:
		return fmt.Sprintf("strategy(%d)", uint8(s))
	}
}

func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "server_wins", "server":
		return StrategyServerWins, nil
	case "last_writer_wins", "lww":
		return StrategyLastWriterWins, nil
	default:
		return 0, fmt.Errorf("unknown merge strategy %q", s)
	}
}

// Reconcile returns remote followed by every local tombstone whose key the
// remote list does not contain. Neither input is modified.
//
// A key that appears twice on either side contributes only its first
// entry, so the result never holds two entries for one key.
func Reconcile(remote, localTombstones models.Snapshot) models.Snapshot {
	out := make(models.Snapshot, 0, len(remote)+len(localTombstones))
	seen := make(map[string]struct{}, len(remote)+len(localTombstones))

	for _, e := range remote {
		if _, dup := seen[e.Key()]; dup {
			continue
		}
		seen[e.Key()] = struct{}{}
		out = append(out, e)
	}
	for _, t := range localTombstones {
		if !t.Deleted {
			continue
		}
		if _, known := seen[t.Key()]; known {
			continue
		}
		seen[t.Key()] = struct{}{}
		out = append(out, t)
	}
	return out
}

// ReconcileLocal is Reconcile with the tombstones taken from local.
func ReconcileLocal(remote, local models.Snapshot) models.Snapshot {
	return Reconcile(remote, local.Tombstones())
}

// CarryPending re-applies local edits that happened after sent was sent.
// Entries of current that are new or differ from sent replace their key in
// merged, or are appended when merged lacks it. pending reports whether
// anything was carried, meaning the server still has to hear about it.
func CarryPending(merged, sent, current models.Snapshot) (out models.Snapshot, pending bool) {
	sentIdx := sent.Index()
	out = merged.Clone()
	outIdx := out.Index()

	for _, e := range current {
		if i, ok := sentIdx[e.Key()]; ok && sent[i].Equal(e) {
			continue
		}
		pending = true
		if j, ok := outIdx[e.Key()]; ok {
			out[j] = e
			continue
		}
		outIdx[e.Key()] = len(out)
		out = append(out, e)
	}
	return out, pending
}

// Resolver applies one Strategy to remote and local snapshots.
type Resolver struct {
	strategy Strategy
}

func New(strategy Strategy) *Resolver {
	return &Resolver{strategy: strategy}
}

func (r *Resolver) Strategy() Strategy {
	if r == nil {
		return StrategyServerWins
	}
	return r.strategy
}

// Resolve merges remote with the full local snapshot. Under both
// strategies local tombstones unknown to the server are kept and repeated
// calls with the same local snapshot are stable.
func (r *Resolver) Resolve(remote, local models.Snapshot) models.Snapshot {
	merged := ReconcileLocal(remote, local)
	if r.Strategy() != StrategyLastWriterWins {
		return merged
	}

	localIdx := local.Index()
	for i, e := range merged {
		j, ok := localIdx[e.Key()]
		if !ok {
			continue
		}
		if local[j].UpdatedAt.After(e.UpdatedAt) {
			merged[i] = local[j]
		}
	}
	return merged
}
