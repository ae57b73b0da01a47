package stock

import (
	"path/filepath"
	"sort"
	"sync"
)

// PathLocks provides per-path mutual exclusion for file actions that may run
// concurrently. Each cleaned path gets its own mutex, so actions on different
// paths proceed in parallel while actions on the same path serialize.
//
// The dependency graph already orders actions that depend on each other;
// PathLocks only matters for unrelated actions that touch the same path.
type PathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPathLocks creates an empty lock set.
func NewPathLocks() *PathLocks {
	return &PathLocks{
		locks: make(map[string]*sync.Mutex),
	}
}

func (l *PathLocks) get(path string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[path]
	if !ok {
		m = &sync.Mutex{}
		l.locks[path] = m
	}
	return m
}

// Lock acquires the mutex of path, creating it on first use.
func (l *PathLocks) Lock(path string) {
	l.get(filepath.Clean(path)).Lock()
}

// Unlock releases the mutex of path.
func (l *PathLocks) Unlock(path string) {
	l.get(filepath.Clean(path)).Unlock()
}

// Acquire locks all given paths and returns a function releasing them.
// Paths are locked in sorted order, which keeps two overlapping calls from
// deadlocking. Duplicates are locked once. A nil *PathLocks is a no-op.
func (l *PathLocks) Acquire(paths ...string) (release func()) {
	if l == nil || len(paths) == 0 {
		return func() {}
	}

	sorted := make([]string, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			sorted = append(sorted, p)
		}
	}
	sort.Strings(sorted)

	for _, p := range sorted {
		l.get(p).Lock()
	}
	return func() {
		for i := len(sorted) - 1; i >= 0; i-- {
			l.get(sorted[i]).Unlock()
		}
	}
}
