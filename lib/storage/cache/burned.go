package cache

import (
	"sync"

	"github.com/mnemo-db/mnemo/lib/expr"
	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/storage"
	"github.com/mnemo-db/mnemo/lib/unit"
)

// --------------------------------------------------------------------------
// Burned Cache
// --------------------------------------------------------------------------

// Burned is the eager counterpart of the aged cache: the first read of a
// type pulls the type's entire population into the cache store, then
// every later read of that type is served purely from cache. The write
// path keeps the cache synchronised with the next manager.
//
// Priming is all or nothing. If the cache store rejects an insert
// partway, the partial fill is discarded and reads fall through to the
// next manager, so an incomplete dataset is never served as complete.
type Burned struct {
	Cache

	mu     sync.Mutex
	primed map[string]bool
}

var _ storage.IStorage = (*Burned)(nil)

// NewBurned wraps next with a preloading cache store. The cache store
// must support introspection, priming checks the cached population
// through it.
func NewBurned(name string, next, cacheStore storage.IStorage) (*Burned, error) {
	if _, ok := cacheStore.(storage.Introspector); !ok {
		return nil, storage.Errorf(storage.CodeNotSupported,
			"burned cache requires an introspectable cache store")
	}
	return &Burned{
		Cache:  *New(name, next, cacheStore),
		primed: map[string]bool{},
	}, nil
}

// ensurePrimed fills the cache with the type's whole population on first
// access. Reports whether reads may be served from cache.
func (b *Burned) ensurePrimed(t *schema.Type) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.primed[t.Name] {
		return true, nil
	}
	intro := b.Store.(storage.Introspector)
	n, err := intro.CachedCount(t)
	if err != nil {
		return false, err
	}
	if n == 0 {
		units, err := storage.CollectUnits(b.Proxy.XRecall(t, storage.All()))
		if err != nil {
			return false, err
		}
		for _, u := range units {
			if err := b.Store.Save(u, true); err != nil {
				// all or nothing: discard the partial fill
				b.Log.Log(storage.LogIO, "%s: priming %q aborted: %v",
					b.Name(), t.Name, err)
				if ferr := intro.FlushType(t); ferr != nil {
					return false, ferr
				}
				return false, nil
			}
		}
	}
	b.primed[t.Name] = true
	return true, nil
}

// Flush drops the cached population and forces a re-prime on the next
// read of the type.
func (b *Burned) Flush(t *schema.Type) error {
	b.mu.Lock()
	delete(b.primed, t.Name)
	b.mu.Unlock()
	return b.Cache.Flush(t)
}

// --------------------------------------------------------------------------
// Read path
// --------------------------------------------------------------------------

func (b *Burned) XRecall(t *schema.Type, stmt storage.Statement) storage.UnitSeq {
	if !b.cacheable(t) {
		return b.Proxy.XRecall(t, stmt)
	}
	primed, err := b.ensurePrimed(t)
	if err != nil {
		return storage.FailUnits(err)
	}
	if !primed {
		// skip the populate side effect: stray cache entries would
		// make a later priming check mistake a partial fill for a
		// complete one
		return b.Proxy.XRecall(t, stmt)
	}
	return b.Store.XRecall(t, stmt)
}

func (b *Burned) Recall(t *schema.Type, stmt storage.Statement) ([]*unit.Unit, error) {
	return storage.CollectUnits(b.XRecall(t, stmt))
}

func (b *Burned) XMultiRecall(src storage.Source, stmt storage.Statement) storage.RowSeq {
	if b.FullJoin {
		return storage.GenericXMultiRecall(b, src, stmt)
	}
	return b.Cache.XMultiRecall(src, stmt)
}

func (b *Burned) MultiRecall(src storage.Source, stmt storage.Statement) ([][]*unit.Unit, error) {
	return storage.CollectRows(b.XMultiRecall(src, stmt))
}

func (b *Burned) XView(q storage.Query, stmt storage.Statement) storage.ViewSeq {
	return storage.GenericXView(b, q, stmt)
}

func (b *Burned) View(q storage.Query, stmt storage.Statement) ([][]any, error) {
	return storage.CollectViews(b.XView(q, stmt))
}

func (b *Burned) Count(src storage.Source, restriction expr.Expr) (int, error) {
	return storage.GenericCount(b, src, restriction)
}

func (b *Burned) Sum(src storage.Source, attr expr.Attr, restriction expr.Expr) (any, error) {
	return storage.GenericSum(b, src, attr, restriction)
}

func (b *Burned) Range(src storage.Source, attr expr.Attr, restriction expr.Expr) ([]any, error) {
	return storage.GenericRange(b, src, attr, restriction)
}
