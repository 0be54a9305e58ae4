// Package kv implements the key-value storage manager: one key per
// identity holding the codec-encoded snapshot, with an optional index
// key per type listing the member keys.
//
// Identity keys are hashed, so arbitrary identifier values stay within
// the key-length limits of memcached-style backends the layout is
// modelled on.
//
// The index is what makes a type enumerable. An unindexed store still
// serves point lookups (restrictions pinning every identifier to a
// constant) but reports not-supported for scans, client-side identifier
// assignment and schema evolution. Identifier-less types cannot be
// stored at all: there is nothing stable to key by.
package kv
