// Package unit implements the live entity instance: a typed bag of
// property values with a dirty flag and an owner reference.
//
// A Unit is created either fresh (New, all properties at their declared
// defaults, dirty) or from decoded storage output (FromProps, values
// coerced into the canonical domain, clean). Every write through Set is
// coerced against the declared property kind, so a unit's values are
// always comparable and encodable regardless of where they came from.
//
// Units implement schema.Instance, which is the surface lifecycle hooks
// and sequencers operate on.
package unit
