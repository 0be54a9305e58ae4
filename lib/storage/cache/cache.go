package cache

import (
	"github.com/mnemo-db/mnemo/lib/expr"
	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/storage"
	"github.com/mnemo-db/mnemo/lib/storage/proxy"
	"github.com/mnemo-db/mnemo/lib/unit"
)

// --------------------------------------------------------------------------
// Object Cache
// --------------------------------------------------------------------------

// Cache wraps an authoritative next manager with a best-effort cache
// store, typically RAM backed. Every write against the next manager is
// mirrored into the cache store; a cache write failure is swallowed and
// logged, never propagated. Only entity types with identifiers are
// cached, identifier-less types pass straight through.
//
// FullQuery turns on cache-first reads: the cache pass runs before the
// next store and identities already served from the cache shadow the
// stored row (the cache is considered fresher). It is off by default
// because some cache backends are slow to scan.
//
// FullJoin routes multi-type recalls through the cache-aware per-type
// path. Off by default, joins then query the next store directly and the
// cache is only populated as a side effect of the read.
type Cache struct {
	proxy.Proxy

	// Store is the cache store. Best effort: it may lose data, the
	// next manager may not.
	Store storage.IStorage

	FullQuery bool
	FullJoin  bool

	// OnAccess is invoked for every unit served from the cache store.
	// The aged cache hooks it to stamp access times.
	OnAccess func(u *unit.Unit)
}

var _ storage.IStorage = (*Cache)(nil)

// New wraps next with a cache store. The name labels logs and metrics.
func New(name string, next, cacheStore storage.IStorage) *Cache {
	return &Cache{Proxy: *proxy.New(name, next), Store: cacheStore}
}

// Register declares the types on the next manager and mirrors every
// keyed type into the cache store.
func (c *Cache) Register(types ...*schema.Type) error {
	if err := c.Proxy.Register(types...); err != nil {
		return err
	}
	for _, t := range types {
		if t.HasIdentifiers() {
			if err := c.Store.Register(t); err != nil {
				return err
			}
		}
	}
	return nil
}

// cacheable reports whether units of the type are mirrored.
func (c *Cache) cacheable(t *schema.Type) bool {
	return t.HasIdentifiers() && c.Store.Handles(t)
}

// hasIdentity reports whether every identifier is assigned. Placeholder
// units from outer joins fail this and are never cached.
func hasIdentity(u *unit.Unit) bool {
	id := u.Identity()
	if len(id) == 0 {
		return false
	}
	for _, v := range id {
		if v == nil {
			return false
		}
	}
	return true
}

func (c *Cache) touch(u *unit.Unit) {
	if c.OnAccess != nil {
		c.OnAccess(u)
	}
}

// cachePut mirrors a unit into the cache store, best effort.
func (c *Cache) cachePut(u *unit.Unit) {
	if !c.cacheable(u.Type()) || !hasIdentity(u) {
		return
	}
	if err := c.Store.Save(u, true); err != nil {
		c.Log.Log(storage.LogIO, "%s: cache write for %q swallowed: %v",
			c.Name(), u.Type().Name, err)
	}
}

// cacheDrop removes a unit from the cache store, best effort.
func (c *Cache) cacheDrop(u *unit.Unit) {
	if !c.cacheable(u.Type()) {
		return
	}
	if err := c.Store.Destroy(u); err != nil {
		c.Log.Log(storage.LogIO, "%s: cache invalidation for %q swallowed: %v",
			c.Name(), u.Type().Name, err)
	}
}

// --------------------------------------------------------------------------
// Write path
// --------------------------------------------------------------------------

func (c *Cache) Reserve(u *unit.Unit) error {
	if err := c.Proxy.Reserve(u); err != nil {
		return err
	}
	c.cachePut(u)
	return nil
}

func (c *Cache) Save(u *unit.Unit, force bool) error {
	dirty := u.Dirty()
	if err := c.Proxy.Save(u, force); err != nil {
		return err
	}
	if force || dirty {
		c.cachePut(u)
	}
	return nil
}

func (c *Cache) Destroy(u *unit.Unit) error {
	if err := c.Proxy.Destroy(u); err != nil {
		return err
	}
	c.cacheDrop(u)
	return nil
}

// --------------------------------------------------------------------------
// Read path
// --------------------------------------------------------------------------

func (c *Cache) XRecall(t *schema.Type, stmt storage.Statement) storage.UnitSeq {
	if !c.cacheable(t) {
		return c.Proxy.XRecall(t, stmt)
	}
	units, err := c.recall(t, stmt)
	if err != nil {
		return storage.FailUnits(err)
	}
	return storage.SeqOfUnits(units)
}

func (c *Cache) Recall(t *schema.Type, stmt storage.Statement) ([]*unit.Unit, error) {
	return storage.CollectUnits(c.XRecall(t, stmt))
}

func (c *Cache) recall(t *schema.Type, stmt storage.Statement) ([]*unit.Unit, error) {
	if !c.FullQuery {
		units, err := storage.CollectUnits(c.Proxy.XRecall(t, stmt))
		if err != nil {
			return nil, err
		}
		for _, u := range units {
			c.cachePut(u)
		}
		return units, nil
	}

	// cache pass first, restriction only; shaping runs over the merged
	// result so cached and stored rows paginate together
	restricted := storage.All().Where(stmt.Restriction)
	cached, err := storage.CollectUnits(c.Store.XRecall(t, restricted))
	if err != nil {
		c.Log.Log(storage.LogIO, "%s: cache read for %q swallowed: %v", c.Name(), t.Name, err)
		cached = nil
	}
	seen := make(map[string]bool, len(cached))
	for _, u := range cached {
		seen[u.Identity().Key()] = true
		c.touch(u)
	}

	out := cached
	stored, err := storage.CollectUnits(c.Proxy.XRecall(t, restricted))
	if err != nil {
		return nil, err
	}
	for _, u := range stored {
		if seen[u.Identity().Key()] {
			// the cache shadows the stored row
			continue
		}
		c.cachePut(u)
		out = append(out, u)
	}
	return storage.ApplyStatement(out, stmt.Where(nil))
}

func (c *Cache) XMultiRecall(src storage.Source, stmt storage.Statement) storage.RowSeq {
	if c.FullJoin {
		return storage.GenericXMultiRecall(c, src, stmt)
	}
	rows, err := storage.CollectRows(c.Proxy.XMultiRecall(src, stmt))
	if err != nil {
		return storage.FailRows(err)
	}
	for _, row := range rows {
		for _, u := range row {
			if u != nil {
				c.cachePut(u)
			}
		}
	}
	return storage.SeqOfRows(rows)
}

func (c *Cache) MultiRecall(src storage.Source, stmt storage.Statement) ([][]*unit.Unit, error) {
	return storage.CollectRows(c.XMultiRecall(src, stmt))
}

func (c *Cache) XView(q storage.Query, stmt storage.Statement) storage.ViewSeq {
	return storage.GenericXView(c, q, stmt)
}

func (c *Cache) View(q storage.Query, stmt storage.Statement) ([][]any, error) {
	return storage.CollectViews(c.XView(q, stmt))
}

func (c *Cache) Count(src storage.Source, restriction expr.Expr) (int, error) {
	return storage.GenericCount(c, src, restriction)
}

func (c *Cache) Sum(src storage.Source, attr expr.Attr, restriction expr.Expr) (any, error) {
	return storage.GenericSum(c, src, attr, restriction)
}

func (c *Cache) Range(src storage.Source, attr expr.Attr, restriction expr.Expr) ([]any, error) {
	return storage.GenericRange(c, src, attr, restriction)
}

// --------------------------------------------------------------------------
// DDL mirroring
// --------------------------------------------------------------------------
// Structural changes reach the cache store in repair mode so mirrored
// snapshots stay decodable; cache-side failures are swallowed like any
// other cache write.

func (c *Cache) DropStorage(t *schema.Type, conflict storage.Conflict) error {
	if err := c.Proxy.DropStorage(t, conflict); err != nil {
		return err
	}
	c.mirrorDDL(t, func() error { return c.Store.DropStorage(t, storage.ConflictRepair) })
	return nil
}

func (c *Cache) AddProperty(t *schema.Type, p schema.Property, conflict storage.Conflict) error {
	if err := c.Proxy.AddProperty(t, p, conflict); err != nil {
		return err
	}
	c.mirrorDDL(t, func() error { return c.Store.AddProperty(t, p, storage.ConflictRepair) })
	return nil
}

func (c *Cache) DropProperty(t *schema.Type, name string, conflict storage.Conflict) error {
	if err := c.Proxy.DropProperty(t, name, conflict); err != nil {
		return err
	}
	c.mirrorDDL(t, func() error { return c.Store.DropProperty(t, name, storage.ConflictRepair) })
	return nil
}

func (c *Cache) RenameProperty(t *schema.Type, oldname, newname string, conflict storage.Conflict) error {
	if err := c.Proxy.RenameProperty(t, oldname, newname, conflict); err != nil {
		return err
	}
	c.mirrorDDL(t, func() error { return c.Store.RenameProperty(t, oldname, newname, storage.ConflictRepair) })
	return nil
}

func (c *Cache) mirrorDDL(t *schema.Type, mirror func() error) {
	if !c.cacheable(t) {
		return
	}
	if err := mirror(); err != nil {
		c.Log.Log(storage.LogIO, "%s: cache DDL for %q swallowed: %v", c.Name(), t.Name, err)
	}
}

// Flush drops every cached copy of the type. The next manager is not
// touched.
func (c *Cache) Flush(t *schema.Type) error {
	if !c.cacheable(t) {
		return nil
	}
	if in, ok := c.Store.(storage.Introspector); ok {
		return in.FlushType(t)
	}
	units, err := storage.CollectUnits(c.Store.XRecall(t, storage.All()))
	if err != nil {
		return err
	}
	for _, u := range units {
		if err := c.Store.Destroy(u); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown releases the cache store first, then the next manager.
func (c *Cache) Shutdown(conflict storage.Conflict) error {
	if err := c.Store.Shutdown(storage.ConflictIgnore); err != nil {
		c.Log.Log(storage.LogIO, "%s: cache shutdown swallowed: %v", c.Name(), err)
	}
	return c.Proxy.Shutdown(conflict)
}
