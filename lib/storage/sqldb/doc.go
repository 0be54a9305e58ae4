// Package sqldb is the SQLite storage manager.
//
// Entity types map onto tables, properties onto columns and identifiers
// onto the primary key. Saves are idempotent upserts; identifier-less
// types fall back to whole-snapshot matching. Identity point lookups and
// plain result shaping run inside the engine, everything else scans and
// filters in memory through the shared statement machinery.
//
// The manager advertises transactions, pushdown, scan and introspection.
// Transactions wrap the single pooled connection, so every statement
// issued between Start and Commit observes the uncommitted state.
package sqldb
