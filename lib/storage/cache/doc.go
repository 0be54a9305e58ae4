// Package cache provides best-effort cache layers over an authoritative
// storage manager.
//
// Cache mirrors every write into a second cache store and swallows cache
// failures: the cache may lose data, the next manager may not. Aged adds
// last-access stamps and a Sweep operation for time-based eviction.
// Burned preloads a type's entire population on first read and then
// serves that type purely from cache.
//
// All three compose through the pass-through proxy, so only intercepted
// operations are spelled out here.
package cache
