// Package registry resolves storage manager implementations by name.
//
// Terminal stores (ram, kv, fs, sqlite, partition) are built with Open;
// layering stores (proxy, cache, aged, burned) wrap an existing store
// via Wrap. The string names double as configuration values, so a chain
// like "burned over sqlite" can be assembled from flags alone.
package registry
