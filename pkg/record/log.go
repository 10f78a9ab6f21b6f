package record

import (
	"sort"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/replog-io/replog/pkg/types"
)

// Log is the per-key record store. Each key owns two offset-sorted
// sequences: an uncommitted tail of locally appended records and a
// committed prefix that consumers may observe.
//
// The Log is owned exclusively by the node's processing loop and carries
// no internal locking.
type Log struct {
	committed   map[string][]types.Record
	uncommitted map[string][]types.Record
}

func NewLog() *Log {
	return &Log{
		committed:   make(map[string][]types.Record),
		uncommitted: make(map[string][]types.Record),
	}
}

// Append stores a new uncommitted record for key and returns its offset.
// Offsets continue from the last uncommitted record, or from the committed
// head when the tail is empty, so per-key offsets are strictly increasing
// and gap-free across commit rounds. Uniqueness is per-node only.
func (l *Log) Append(key string, value int64) int64 {
	tail := l.uncommitted[key]

	var offset int64
	if n := len(tail); n > 0 {
		offset = tail[n-1].Offset + 1
	} else if c := l.committed[key]; len(c) > 0 {
		offset = c[len(c)-1].Offset + 1
	}

	l.uncommitted[key] = append(tail, types.Record{Offset: offset, Value: value})
	return offset
}

// CommittedFrom returns every committed record for key with offset >= from,
// in increasing offset order. Unknown keys yield an empty result.
func (l *Log) CommittedFrom(key string, from int64) []types.Record {
	recs := l.committed[key]
	i := partitionPoint(recs, from)
	return slices.Clone(recs[i:])
}

// UncommittedUpTo returns every uncommitted record for key with
// offset <= limit. The gather phase uses this to harvest records a peer
// has not yet folded into its committed sequence.
func (l *Log) UncommittedUpTo(key string, limit int64) []types.Record {
	recs := l.uncommitted[key]
	i := partitionPoint(recs, limit+1)
	return slices.Clone(recs[:i])
}

// DrainUncommittedUpTo removes every uncommitted record for key with
// offset <= limit. Callers apply this alongside MergeIntoCommitted for the
// same key so a record never exists on both sides of the boundary.
func (l *Log) DrainUncommittedUpTo(key string, limit int64) {
	recs, ok := l.uncommitted[key]
	if !ok {
		return
	}
	i := partitionPoint(recs, limit+1)
	if i == 0 {
		return
	}
	l.uncommitted[key] = slices.Clone(recs[i:])
}

// MergeIntoCommitted folds a commit round's records for key into the
// committed sequence. Incoming records interleave with existing entries
// since they originate from multiple peers, so the merged sequence is
// re-sorted. Duplicate offsets collapse to a single record and the entry
// already committed wins.
func (l *Log) MergeIntoCommitted(key string, recs []types.Record) {
	if len(recs) == 0 {
		return
	}

	merged := append(l.committed[key], recs...)
	slices.SortStableFunc(merged, func(a, b types.Record) int {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		default:
			return 0
		}
	})

	// Stable sort keeps the existing committed entry ahead of any incoming
	// duplicate, so compacting to the first record per offset is
	// first-writer-wins.
	out := merged[:0]
	for _, r := range merged {
		if n := len(out); n > 0 && out[n-1].Offset == r.Offset {
			continue
		}
		out = append(out, r)
	}
	l.committed[key] = out
}

// Keys lists every key with committed or uncommitted records.
func (l *Log) Keys() []string {
	seen := make(map[string]struct{}, len(l.committed)+len(l.uncommitted))
	for k := range l.committed {
		seen[k] = struct{}{}
	}
	for k := range l.uncommitted {
		seen[k] = struct{}{}
	}
	keys := maps.Keys(seen)
	sort.Strings(keys)
	return keys
}

func (l *Log) CommittedLen(key string) int {
	return len(l.committed[key])
}

func (l *Log) UncommittedLen(key string) int {
	return len(l.uncommitted[key])
}

// partitionPoint returns the index of the first record with
// offset >= target over an offset-sorted sequence.
func partitionPoint(recs []types.Record, target int64) int {
	return sort.Search(len(recs), func(i int) bool {
		return recs[i].Offset >= target
	})
}
