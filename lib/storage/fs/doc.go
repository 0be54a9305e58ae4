// Package fs implements the flat-file storage manager: a directory per
// entity type, a folder per unit named after its escaped identifier
// values, a file per property.
//
// String and byte properties are written raw and everything else as
// JSON, so a stored unit can be inspected and even edited with ordinary
// shell tools. An absent property file reads back as nil.
//
// Writers are serialised per type: in-process through a mutex, across
// processes through a class.lock file in the type directory acquired by
// bounded-sleep polling.
//
// Transactions are not supported; the store advertises FeatureScan and
// FeatureIntrospection.
package fs
