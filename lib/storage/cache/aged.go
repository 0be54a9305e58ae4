package cache

import (
	"sync"
	"time"

	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/storage"
	"github.com/mnemo-db/mnemo/lib/unit"
)

// --------------------------------------------------------------------------
// Aged Cache
// --------------------------------------------------------------------------

// Aged extends the object cache with a last-access stamp per cached
// identity. Sweep invalidates stale entries; running it on a schedule is
// the host application's concern.
//
// Thread-safety: the access table has its own mutex, so stamping from
// concurrent readers is safe even though the layers below serialise on
// their own terms.
type Aged struct {
	Cache

	mu       sync.Mutex
	accessed map[string]map[string]time.Time

	// now is swapped in tests
	now func() time.Time
}

var _ storage.IStorage = (*Aged)(nil)

// NewAged wraps next with a sweepable cache store. The cache store must
// support introspection, Sweep enumerates entries through it.
func NewAged(name string, next, cacheStore storage.IStorage) (*Aged, error) {
	if _, ok := cacheStore.(storage.Introspector); !ok {
		return nil, storage.Errorf(storage.CodeNotSupported,
			"aged cache requires an introspectable cache store")
	}
	a := &Aged{
		Cache:    *New(name, next, cacheStore),
		accessed: map[string]map[string]time.Time{},
		now:      time.Now,
	}
	a.OnAccess = a.recordAccess
	return a, nil
}

func (a *Aged) recordAccess(u *unit.Unit) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tn := u.Type().Name
	if a.accessed[tn] == nil {
		a.accessed[tn] = map[string]time.Time{}
	}
	a.accessed[tn][u.Identity().Key()] = a.now()
}

// Flush drops the cached copies and the access stamps of the type.
func (a *Aged) Flush(t *schema.Type) error {
	a.mu.Lock()
	delete(a.accessed, t.Name)
	a.mu.Unlock()
	return a.Cache.Flush(t)
}

// Sweep invalidates cached entries by age. An entry is dropped when its
// last access predates the cutoff, or when it has never been accessed
// and no cutoff is given (zero time). Access records are reset
// afterwards, so a later cutoff-less sweep evicts everything untouched
// in between.
func (a *Aged) Sweep(cutoff time.Time) error {
	intro := a.Store.(storage.Introspector)
	for _, t := range a.Store.Types() {
		units, err := intro.CachedUnits(t)
		if err != nil {
			return err
		}
		a.mu.Lock()
		stamps := a.accessed[t.Name]
		a.mu.Unlock()
		for _, u := range units {
			last, seen := stamps[u.Identity().Key()]
			stale := (!seen && cutoff.IsZero()) ||
				(seen && !cutoff.IsZero() && last.Before(cutoff))
			if !stale {
				continue
			}
			if err := a.Store.Destroy(u); err != nil {
				a.Log.Log(storage.LogIO, "%s: sweep of %q swallowed: %v",
					a.Name(), t.Name, err)
			}
		}
	}
	a.mu.Lock()
	a.accessed = map[string]map[string]time.Time{}
	a.mu.Unlock()
	return nil
}
