// Package keylock provides in-process mutual exclusion keyed by string.
// Multi-key acquisition always locks keys in sorted order, so two
// callers grabbing overlapping key sets cannot deadlock each other.
package keylock

import (
	"sort"
	"sync"
)

type Guard struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New() *Guard {
	return &Guard{locks: make(map[string]*sync.Mutex)}
}

func (g *Guard) lockFor(key string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[key]
	if !ok {
		l = &sync.Mutex{}
		g.locks[key] = l
	}
	return l
}

// Acquire locks every key and returns a release func. Duplicate keys are
// collapsed so Acquire(a, a) does not self-deadlock.
func (g *Guard) Acquire(keys ...string) func() {
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			uniq = append(uniq, k)
		}
	}
	sort.Strings(uniq)

	held := make([]*sync.Mutex, 0, len(uniq))
	for _, k := range uniq {
		l := g.lockFor(k)
		l.Lock()
		held = append(held, l)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].Unlock()
			}
		})
	}
}
