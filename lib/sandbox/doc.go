// Package sandbox provides the identity-mapped unit of work applications
// interact with.
//
// A sandbox owns at most one live instance per distinct identity per
// entity type and mediates every read and write against one storage
// manager: memorize binds and reserves, forget destroys, repress flushes
// and evicts, recalls merge cached instances with stored rows (the cache
// winning per identity), and rollback purges local edits along with the
// backend transaction.
//
// Sandboxes hold no locks and must not be shared across goroutines; one
// sandbox per logical owner, all of them over the same storage manager.
package sandbox
