// Package ram implements the in-memory storage manager: one table per
// entity type, holding codec-encoded property snapshots keyed by
// identity (or by a snapshot digest for identifier-less types).
//
// Snapshots are encoded on write and decoded into fresh units on read,
// so a recalled unit never aliases the instance a caller saved. This is
// what makes the store safe as the cache side of an object cache.
//
// Schema evolution rewrites stored snapshots in place: AddProperty
// back-fills the declared default, DropProperty and RenameProperty
// adjust every snapshot.
//
// Transactions are not supported (writes apply immediately);
// Start/Commit/Rollback are no-ops. The store advertises FeatureScan and
// FeatureIntrospection, the latter serving the burned cache's priming
// checks.
package ram
