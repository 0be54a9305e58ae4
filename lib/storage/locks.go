package storage

import (
	"sync"

	"github.com/mnemo-db/mnemo/lib/schema"
)

// --------------------------------------------------------------------------
// Per-Type Locking
// --------------------------------------------------------------------------

// TypeLocks serialises read-modify-write mutations per entity type.
// Backends with process-wide shared state hold the type's lock across
// reserve/save/destroy so identifier assignment (find the next unused
// identity, write it) is atomic against concurrent reservations.
//
// Locks are always acquired singly, never nested across types.
type TypeLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Lock acquires the lock for the type and returns its release function.
func (tl *TypeLocks) Lock(t *schema.Type) func() {
	tl.mu.Lock()
	if tl.locks == nil {
		tl.locks = map[string]*sync.Mutex{}
	}
	l, ok := tl.locks[t.Name]
	if !ok {
		l = &sync.Mutex{}
		tl.locks[t.Name] = l
	}
	tl.mu.Unlock()

	l.Lock()
	return l.Unlock
}
