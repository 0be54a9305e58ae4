package schema

import (
	"fmt"
	"sort"
)

// --------------------------------------------------------------------------
// Property Definition
// --------------------------------------------------------------------------

// Property describes one named attribute of an entity type.
//
// MaxBytes, Precision and Scale are sizing hints for database backends
// (column widths, numeric precision). Backends without a schema simply
// ignore them.
type Property struct {
	Name      string
	Type      Kind
	Default   any
	MaxBytes  int
	Precision int
	Scale     int
	Indexed   bool
}

// Association describes a link from a near type to a far type.
//
// Name is the lookup path for the association; when empty it defaults to
// the far type's name. NearKey/FarKey name the joined properties on each
// side. ToMany distinguishes one-to-many from many-to-one links.
type Association struct {
	Name    string
	NearKey string
	FarType string
	FarKey  string
	ToMany  bool
}

// PathName returns the name under which the association is registered.
func (a Association) PathName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.FarType
}

// --------------------------------------------------------------------------
// Instance Contract
// --------------------------------------------------------------------------

// Instance is the read/write surface of a live entity instance ("unit").
// It is defined here so that lifecycle hooks and sequencers can operate on
// instances without importing the unit package.
type Instance interface {
	Type() *Type
	Get(name string) any
	Set(name string, value any) error
	Identity() Identity
}

// Hooks holds optional per-type lifecycle callbacks, invoked by the
// sandbox at unit lifecycle boundaries. A nil field means "no hook".
//
// OnRecall may return an error to veto acceptance of a freshly loaded
// instance; callers treat a vetoed instance as absent, not as a fault.
type Hooks struct {
	OnMemorize func(Instance)
	OnRecall   func(Instance) error
	OnForget   func(Instance)
	OnRepress  func(Instance)
}

// --------------------------------------------------------------------------
// Type Definition
// --------------------------------------------------------------------------

// Type is the static metadata for one entity type: its ordered property
// set, identifying properties, identifier sequencer and associations.
//
// A Type is built once at startup and must not be mutated after it has
// been registered with a storage manager, except through the explicit
// schema-evolution calls (AddProperty and friends) performed alongside
// the matching DDL operations.
type Type struct {
	Name string

	// Hooks are optional lifecycle callbacks for instances of this type.
	Hooks Hooks

	props        []Property
	byName       map[string]int
	identifiers  []string
	sequencer    Sequencer
	associations map[string]Association
}

// NewType creates a type with the given properties. The default sequencer
// is manual (identifiers must be assigned by the application).
func NewType(name string, props ...Property) *Type {
	t := &Type{
		Name:         name,
		byName:       map[string]int{},
		sequencer:    ManualSequencer{},
		associations: map[string]Association{},
	}
	for _, p := range props {
		t.AddProperty(p)
	}
	return t
}

// AddProperty appends a property definition. It returns the type to allow
// declaration chaining.
func (t *Type) AddProperty(p Property) *Type {
	if _, ok := t.byName[p.Name]; ok {
		panic(fmt.Sprintf("schema: type %q already has property %q", t.Name, p.Name))
	}
	t.byName[p.Name] = len(t.props)
	t.props = append(t.props, p)
	return t
}

// DropProperty removes a property definition (schema evolution).
func (t *Type) DropProperty(name string) *Type {
	idx, ok := t.byName[name]
	if !ok {
		return t
	}
	t.props = append(t.props[:idx], t.props[idx+1:]...)
	delete(t.byName, name)
	for i, p := range t.props {
		t.byName[p.Name] = i
	}
	return t
}

// RenameProperty renames a property definition (schema evolution).
func (t *Type) RenameProperty(oldname, newname string) *Type {
	idx, ok := t.byName[oldname]
	if !ok {
		return t
	}
	t.props[idx].Name = newname
	delete(t.byName, oldname)
	t.byName[newname] = idx
	return t
}

// SetIdentifiers declares the ordered identifying properties. An empty
// set means the type has no natural key.
func (t *Type) SetIdentifiers(names ...string) *Type {
	for _, n := range names {
		if _, ok := t.byName[n]; !ok {
			panic(fmt.Sprintf("schema: type %q has no property %q", t.Name, n))
		}
	}
	t.identifiers = append([]string(nil), names...)
	return t
}

// SetSequencer declares the identifier-generation strategy.
func (t *Type) SetSequencer(s Sequencer) *Type {
	t.sequencer = s
	return t
}

// Associate registers an association descriptor.
func (t *Type) Associate(a Association) *Type {
	t.associations[a.PathName()] = a
	return t
}

// Property returns the definition for the named property.
func (t *Type) Property(name string) (Property, bool) {
	idx, ok := t.byName[name]
	if !ok {
		return Property{}, false
	}
	return t.props[idx], true
}

// HasProperty reports whether the named property is declared.
func (t *Type) HasProperty(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// Properties returns a copy of the ordered property definitions.
func (t *Type) Properties() []Property {
	return append([]Property(nil), t.props...)
}

// PropertyNames returns the ordered property names.
func (t *Type) PropertyNames() []string {
	names := make([]string, len(t.props))
	for i, p := range t.props {
		names[i] = p.Name
	}
	return names
}

// Identifiers returns the ordered identifying property names.
func (t *Type) Identifiers() []string {
	return append([]string(nil), t.identifiers...)
}

// HasIdentifiers reports whether the type has a natural key.
func (t *Type) HasIdentifiers() bool {
	return len(t.identifiers) > 0
}

// Sequencer returns the identifier-generation strategy.
func (t *Type) Sequencer() Sequencer {
	return t.sequencer
}

// Association returns the association registered under the given path.
func (t *Type) Association(path string) (Association, bool) {
	a, ok := t.associations[path]
	return a, ok
}

// Associations returns all registered associations, ordered by path name.
func (t *Type) Associations() []Association {
	paths := make([]string, 0, len(t.associations))
	for p := range t.associations {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	out := make([]Association, len(paths))
	for i, p := range paths {
		out[i] = t.associations[p]
	}
	return out
}
