package storage

import (
	"sync"

	"github.com/mnemo-db/mnemo/lib/schema"
)

// --------------------------------------------------------------------------
// Type Registry
// --------------------------------------------------------------------------

// TypeSet is the registration bookkeeping shared by every storage
// manager; implementations embed it to satisfy the registration part of
// the IStorage contract.
//
// Thread-safety: all methods are safe for concurrent use.
type TypeSet struct {
	mu    sync.RWMutex
	types map[string]*schema.Type
	order []string
}

// Register declares types. Re-registering a type is a no-op.
func (ts *TypeSet) Register(types ...*schema.Type) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.types == nil {
		ts.types = map[string]*schema.Type{}
	}
	for _, t := range types {
		if t == nil {
			return Errorf(CodeInvalid, "cannot register a nil type")
		}
		if _, ok := ts.types[t.Name]; ok {
			continue
		}
		ts.types[t.Name] = t
		ts.order = append(ts.order, t.Name)
	}
	return nil
}

// Unregister removes a type from the set.
func (ts *TypeSet) Unregister(t *schema.Type) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if _, ok := ts.types[t.Name]; !ok {
		return
	}
	delete(ts.types, t.Name)
	for i, n := range ts.order {
		if n == t.Name {
			ts.order = append(ts.order[:i], ts.order[i+1:]...)
			break
		}
	}
}

// Handles reports whether the type is registered.
func (ts *TypeSet) Handles(t *schema.Type) bool {
	if t == nil {
		return false
	}
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	_, ok := ts.types[t.Name]
	return ok
}

// Types returns the registered types in registration order.
func (ts *TypeSet) Types() []*schema.Type {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make([]*schema.Type, len(ts.order))
	for i, n := range ts.order {
		out[i] = ts.types[n]
	}
	return out
}

// TypeByName resolves a registered type.
func (ts *TypeSet) TypeByName(name string) (*schema.Type, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.types[name]
	return t, ok
}

// EnsureHandled returns an invalid-request error for unregistered types.
func (ts *TypeSet) EnsureHandled(t *schema.Type) error {
	if !ts.Handles(t) {
		name := "<nil>"
		if t != nil {
			name = t.Name
		}
		return Errorf(CodeInvalid, "type %q is not registered with this storage manager", name)
	}
	return nil
}

// EnsureSource checks every member type of a source.
func (ts *TypeSet) EnsureSource(src Source) error {
	types := src.Types()
	if len(types) == 0 {
		return Errorf(CodeInvalid, "empty query source")
	}
	for _, t := range types {
		if err := ts.EnsureHandled(t); err != nil {
			return err
		}
	}
	return nil
}
