package sandbox

import (
	"fmt"

	"github.com/mnemo-db/mnemo/lib/schema"
	"github.com/mnemo-db/mnemo/lib/storage"
	"github.com/mnemo-db/mnemo/lib/unit"
)

// --------------------------------------------------------------------------
// Sandbox
// --------------------------------------------------------------------------

// Sandbox is the identity-mapped unit of work over one storage manager.
// It holds at most one live instance per distinct identity per type, so
// reads after local writes observe the local edit even before a flush.
//
// Thread-safety: none, deliberately. A sandbox belongs to exactly one
// logical owner; identity-map correctness depends on it. Give each
// goroutine its own sandbox over the shared storage manager.
type Sandbox struct {
	store     storage.IStorage
	caches    map[string]map[string]*unit.Unit
	recallers map[string]Recaller
	inTx      bool
}

// Recaller recalls units of one fixed type through the sandbox.
type Recaller func(stmt storage.Statement) ([]*unit.Unit, error)

// New creates a sandbox over the given storage manager and builds the
// recaller table for the types registered so far.
func New(store storage.IStorage) *Sandbox {
	s := &Sandbox{
		store:     store,
		caches:    map[string]map[string]*unit.Unit{},
		recallers: map[string]Recaller{},
	}
	for _, t := range store.Types() {
		s.recallers[t.Name] = s.recallerFor(t)
	}
	return s
}

// Store exposes the underlying storage manager.
func (s *Sandbox) Store() storage.IStorage { return s.store }

// Recaller resolves the typed recaller for a type name. Types registered
// with the store after the sandbox was built resolve lazily.
func (s *Sandbox) Recaller(typeName string) (Recaller, bool) {
	if r, ok := s.recallers[typeName]; ok {
		return r, true
	}
	t, ok := s.store.TypeByName(typeName)
	if !ok {
		return nil, false
	}
	r := s.recallerFor(t)
	s.recallers[typeName] = r
	return r, true
}

func (s *Sandbox) recallerFor(t *schema.Type) Recaller {
	return func(stmt storage.Statement) ([]*unit.Unit, error) {
		return s.Recall(t, stmt)
	}
}

// --------------------------------------------------------------------------
// Identity cache
// --------------------------------------------------------------------------

// keyFor derives the cache key: the identity key for keyed types, the
// instance's memory identity for identifier-less ones.
func keyFor(u *unit.Unit) string {
	if u.Type().HasIdentifiers() {
		return u.Identity().Key()
	}
	return fmt.Sprintf("%p", u)
}

// hasIdentity reports whether every identifier carries a value. Blank
// placeholder units from outer joins fail this.
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

func (s *Sandbox) cacheOf(typeName string) map[string]*unit.Unit {
	c, ok := s.caches[typeName]
	if !ok {
		c = map[string]*unit.Unit{}
		s.caches[typeName] = c
	}
	return c
}

func (s *Sandbox) insert(u *unit.Unit) {
	s.cacheOf(u.Type().Name)[keyFor(u)] = u
}

func (s *Sandbox) evict(u *unit.Unit) {
	delete(s.cacheOf(u.Type().Name), keyFor(u))
}

// adopt takes a freshly loaded unit into the sandbox. The cache is
// re-checked first: another code path may have inserted the identity
// between the cache miss and the storage round trip, and that live
// instance wins over the loaded copy. A recall-hook veto makes adopt
// report the unit as absent (nil, nil).
func (s *Sandbox) adopt(u *unit.Unit) (*unit.Unit, error) {
	t := u.Type()
	if cached, ok := s.cacheOf(t.Name)[keyFor(u)]; ok {
		return cached, nil
	}
	if hook := t.Hooks.OnRecall; hook != nil {
		if err := hook(u); err != nil {
			// vetoed: treat as absent, not as a fault
			return nil, nil
		}
	}
	if err := u.Bind(s); err != nil {
		return nil, err
	}
	s.insert(u)
	return u, nil
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Memorize binds each instance to this sandbox, reserves it in storage
// (assigning identifiers where the sequencer requires it) and caches it.
// Memorizing an instance bound to another sandbox is an application
// error and fails.
func (s *Sandbox) Memorize(units ...*unit.Unit) error {
	for _, u := range units {
		if err := u.Bind(s); err != nil {
			return err
		}
		if err := s.store.Reserve(u); err != nil {
			return err
		}
		s.insert(u)
		if hook := u.Type().Hooks.OnMemorize; hook != nil {
			hook(u)
		}
	}
	return nil
}

// Forget destroys each instance in the backing store and drops it from
// the cache. The store is authoritative: destruction happens even when
// the instance was never cached here.
func (s *Sandbox) Forget(units ...*unit.Unit) error {
	for _, u := range units {
		s.evict(u)
		if err := s.store.Destroy(u); err != nil {
			return err
		}
		if hook := u.Type().Hooks.OnForget; hook != nil {
			hook(u)
		}
		u.Unbind()
	}
	return nil
}

// Repress flushes each instance and evicts it from the cache without
// destroying it.
func (s *Sandbox) Repress(units ...*unit.Unit) error {
	for _, u := range units {
		if err := s.store.Save(u, false); err != nil {
			return err
		}
		if hook := u.Type().Hooks.OnRepress; hook != nil {
			hook(u)
		}
		s.evict(u)
		u.Unbind()
	}
	return nil
}

// Purge drops every cached instance of the type without saving. Unsaved
// edits on the purged instances are lost to this sandbox.
func (s *Sandbox) Purge(t *schema.Type) {
	for _, u := range s.caches[t.Name] {
		u.Unbind()
	}
	delete(s.caches, t.Name)
}

// FlushAll persists and evicts every cached instance, then commits any
// open transaction. Repress hooks run on all instances before anything
// is removed, because a hook may reach across instances.
func (s *Sandbox) FlushAll() error {
	for _, c := range s.caches {
		for _, u := range c {
			if hook := u.Type().Hooks.OnRepress; hook != nil {
				hook(u)
			}
		}
	}
	for tn, c := range s.caches {
		for _, u := range c {
			if err := s.store.Save(u, false); err != nil {
				return err
			}
			u.Unbind()
		}
		delete(s.caches, tn)
	}
	if s.inTx {
		s.inTx = false
		return s.store.Commit()
	}
	return nil
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

// Start opens a transaction where the backend supports one.
func (s *Sandbox) Start() error {
	if err := s.store.Start(); err != nil {
		return err
	}
	s.inTx = true
	return nil
}

// Commit delegates to the backend.
func (s *Sandbox) Commit() error {
	s.inTx = false
	return s.store.Commit()
}

// Rollback delegates to the backend and purges every local cache: the
// store's rollback cannot see in-memory edits, so they must not survive
// here either.
func (s *Sandbox) Rollback() error {
	s.inTx = false
	err := s.store.Rollback()
	for tn, c := range s.caches {
		for _, u := range c {
			u.Unbind()
		}
		delete(s.caches, tn)
	}
	return err
}

// Using runs fn inside a scoped sandbox over the store. A normal return
// triggers exactly one FlushAll; an error or panic triggers exactly one
// Rollback (panics are re-raised).
func Using(store storage.IStorage, fn func(*Sandbox) error) error {
	s := New(store)
	if err := s.Start(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			s.Rollback()
			panic(r)
		}
	}()
	if err := fn(s); err != nil {
		s.Rollback()
		return err
	}
	return s.FlushAll()
}
