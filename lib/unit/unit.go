package unit

import (
	"reflect"

	"github.com/mnemo-db/mnemo/lib/schema"
)

// --------------------------------------------------------------------------
// Unit
// --------------------------------------------------------------------------

// Unit is one live entity instance: a typed bag of property values plus a
// dirty flag and an optional owner (the sandbox the unit is bound to).
//
// Thread-safety: a Unit is NOT safe for concurrent use. Units are owned by
// exactly one sandbox (or one storage call) at a time; synchronisation is
// the owner's job.
type Unit struct {
	typ   *schema.Type
	props map[string]any
	dirty bool
	owner any
}

// compile time interface check
var _ schema.Instance = (*Unit)(nil)

// New creates a fresh unit of the given type with every property set to
// its declared default. A freshly created unit is dirty: it has never
// been persisted.
func New(t *schema.Type) (*Unit, error) {
	u := &Unit{
		typ:   t,
		props: make(map[string]any, len(t.PropertyNames())),
		dirty: true,
	}
	for _, p := range t.Properties() {
		v, err := p.Type.Coerce(p.Default)
		if err != nil {
			return nil, err
		}
		u.props[p.Name] = v
	}
	return u, nil
}

// FromProps builds a unit from decoded property values, coercing each into
// the canonical domain for its declared kind. Properties missing from the
// input become nil (not the declared default); unknown keys are dropped.
// The resulting unit is clean.
func FromProps(t *schema.Type, props map[string]any) (*Unit, error) {
	u := &Unit{
		typ:   t,
		props: make(map[string]any, len(t.PropertyNames())),
	}
	for _, p := range t.Properties() {
		raw, ok := props[p.Name]
		if !ok {
			u.props[p.Name] = nil
			continue
		}
		v, err := p.Type.Coerce(raw)
		if err != nil {
			return nil, err
		}
		u.props[p.Name] = v
	}
	return u, nil
}

// Type returns the unit's entity type.
func (u *Unit) Type() *schema.Type { return u.typ }

// Get returns the current value of the named property, or nil when the
// property is not declared.
func (u *Unit) Get(name string) any { return u.props[name] }

// Set coerces the value into the property's canonical domain, stores it
// and marks the unit dirty. Setting an undeclared property is an error.
func (u *Unit) Set(name string, value any) error {
	p, ok := u.typ.Property(name)
	if !ok {
		return &UndeclaredPropertyError{Type: u.typ.Name, Property: name}
	}
	v, err := p.Type.Coerce(value)
	if err != nil {
		return err
	}
	u.props[name] = v
	u.dirty = true
	return nil
}

// Identity returns the unit's current identifier tuple.
func (u *Unit) Identity() schema.Identity {
	names := u.typ.Identifiers()
	id := make(schema.Identity, len(names))
	for i, n := range names {
		id[i] = u.props[n]
	}
	return id
}

// Properties returns a copy of the unit's property values.
func (u *Unit) Properties() map[string]any {
	out := make(map[string]any, len(u.props))
	for k, v := range u.props {
		out[k] = v
	}
	return out
}

// Dirty reports whether the unit has unsaved changes.
func (u *Unit) Dirty() bool { return u.dirty }

// MarkDirty flags the unit as having unsaved changes.
func (u *Unit) MarkDirty() { u.dirty = true }

// Cleanse clears the dirty flag after a successful save.
func (u *Unit) Cleanse() { u.dirty = false }

// Bind attaches the unit to an owner. Binding an already bound unit to a
// different owner is an error.
func (u *Unit) Bind(owner any) error {
	if u.owner != nil && u.owner != owner {
		return &AlreadyBoundError{Type: u.typ.Name}
	}
	u.owner = owner
	return nil
}

// Unbind detaches the unit from its owner.
func (u *Unit) Unbind() { u.owner = nil }

// Owner returns the unit's current owner, or nil.
func (u *Unit) Owner() any { return u.owner }

// Bound reports whether the unit is attached to an owner.
func (u *Unit) Bound() bool { return u.owner != nil }

// PropsEqual reports whether two units of the same type hold identical
// property values.
func PropsEqual(a, b *Unit) bool {
	if a.typ != b.typ {
		return false
	}
	return reflect.DeepEqual(a.props, b.props)
}
