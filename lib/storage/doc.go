// Package storage defines the uniform persistence contract (IStorage)
// implemented by every backend, cache layer and mediator, plus the
// shared machinery those implementations lean on.
//
// The package focuses on:
//   - The contract itself: registration, DDL under conflict modes, DML
//     (reserve/save/destroy, lazy and eager recalls, views, aggregates)
//     and optional transactions
//   - The closed conflict-mode enum (error/warn/repair/ignore) with
//     uniform resolution semantics across backends
//   - The closed error taxonomy (mapping, association, unrecallable,
//     not-supported, invalid, io)
//   - Query value objects: Source join trees, Query projections and
//     Statement modifiers with the shared pagination contract
//   - Generic fallbacks every backend can delegate to: in-memory
//     filter/sort/paginate, nested-loop join combine, view projection,
//     count, sum and dense range
//
// Layers compose by holding the next IStorage explicitly and forwarding;
// there is no inheritance chain. A backend overrides a generic fallback
// only when it can push the work into its engine, and the pushdown path
// must stay observably equivalent to the fallback.
//
// Pagination contract: ordering happens before offset, offset before
// limit. An offset without an order is an invalid request on every
// backend, a limit of zero yields nothing, NoLimit lifts the bound.
//
// Thread-safety: implementations tolerate concurrent callers; backends
// with process-wide shared state serialise read-modify-write mutations
// per entity type through TypeLocks.
package storage
