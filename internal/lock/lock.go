package lock

import (
	"context"
	"sort"
	"sync"
)

// Locker serializes ledger operations that touch the same (product, site)
// aggregates. Acquire blocks until every key is held and returns a release
// function. Implementations must tolerate overlapping key sets from
// concurrent callers without deadlocking.
type Locker interface {
	Acquire(ctx context.Context, keys []string) (release func(), err error)
}

// KeyedMutex is the in-process Locker used by single-writer deployments.
// Keys are locked in sorted order so overlapping acquisitions cannot
// deadlock each other.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*sync.Mutex
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*sync.Mutex)}
}

func (k *KeyedMutex) Acquire(_ context.Context, keys []string) (func(), error) {
	sorted := dedupSorted(keys)

	held := make([]*sync.Mutex, 0, len(sorted))
	for _, key := range sorted {
		k.mu.Lock()
		entry, ok := k.entries[key]
		if !ok {
			entry = &sync.Mutex{}
			k.entries[key] = entry
		}
		k.mu.Unlock()

		entry.Lock()
		held = append(held, entry)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}, nil
}

func dedupSorted(keys []string) []string {
	sorted := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		sorted = append(sorted, key)
	}
	sort.Strings(sorted)
	return sorted
}
