// Package storetest provides a reusable conformance suite for storage
// manager implementations.
//
// Every backend and layering store is expected to pass RunStorageTests;
// subtests for optional capabilities (transactions, introspection, full
// scans) skip themselves on managers that do not advertise the matching
// feature flag.
package storetest
