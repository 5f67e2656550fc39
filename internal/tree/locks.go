package tree

import (
	"sort"
	"sync"
)

// forestLocks serializes structural rewrites per forest. Mutations on
// disjoint forests run in parallel; a cross-forest move holds both locks.
// Acquisition order is sorted by forest id so two moves swapping subtrees
// between the same pair of forests cannot deadlock.
//
// Entries are never evicted. A deployment has at most a few thousand
// forests, so the map stays small.
type forestLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newForestLocks() *forestLocks {
	return &forestLocks{locks: make(map[string]*sync.Mutex)}
}

func (f *forestLocks) get(forestID string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[forestID]
	if !ok {
		l = &sync.Mutex{}
		f.locks[forestID] = l
	}
	return l
}

// acquire locks every named forest and returns the paired unlock.
// Duplicate ids are collapsed before sorting.
func (f *forestLocks) acquire(forestIDs ...string) (unlock func()) {
	unique := make([]string, 0, len(forestIDs))
	seen := make(map[string]struct{}, len(forestIDs))
	for _, id := range forestIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	sort.Strings(unique)

	held := make([]*sync.Mutex, 0, len(unique))
	for _, id := range unique {
		l := f.get(id)
		l.Lock()
		held = append(held, l)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
