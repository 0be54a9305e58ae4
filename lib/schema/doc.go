// Package schema holds the static metadata describing entity types: their
// ordered property sets with semantic kinds and sizing hints, identifying
// properties, identifier-generation strategies (sequencers), associations
// between types, and optional per-type lifecycle hooks.
//
// The storage and sandbox layers treat this metadata as read-only input:
// a Type is declared once at startup, registered with the storage managers
// that will handle it, and then only mutated through the explicit
// schema-evolution calls made alongside the matching DDL operations.
//
// Key Components:
//
//   - Type: one entity type. Built with NewType and the chaining
//     declaration methods (AddProperty, SetIdentifiers, SetSequencer,
//     Associate).
//
//   - Kind: the semantic type of a property value. All property values
//     live in a closed canonical domain (nil, bool, int64, float64,
//     string, []byte, time.Time); Kind.Coerce normalises inputs into it
//     so that identity keys and round trips stay stable no matter which
//     backend stored the value or which codec decoded it.
//
//   - Identity: the ordered tuple of identifier values for an instance,
//     with a canonical string Key used by caches and index structures.
//
//   - Sequencer: the identifier-generation contract. ManualSequencer
//     (application-assigned), IntSequencer (client-side auto-increment
//     over known identities) and UUIDSequencer (random, coordination-free)
//     are provided.
//
//   - Instance: the minimal read/write surface of a live instance, so
//     hooks and sequencers can operate on instances without importing
//     the unit package.
package schema
