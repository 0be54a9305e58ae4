// Package partition routes entity types across several delegate storage
// managers behind one uniform surface.
//
// Every type resolves to an ordered delegate list whose head is
// authoritative for DML; DDL broadcasts to all of them in priority
// order. Joins resolve to a single delegate able to service every
// member type. Migrate moves a type's population between delegates and
// reroutes only after the copy succeeds.
package partition
