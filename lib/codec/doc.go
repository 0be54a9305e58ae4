// Package codec provides property-snapshot serialization for the storage
// backends. It defines a common interface and multiple implementations for
// encoding a unit's property values into bytes and back.
//
// The package focuses on:
//   - Providing a consistent interface for different serialization formats
//   - Keeping the canonical value domain (nil, bool, int64, float64,
//     string, []byte, time.Time) stable across encode/decode round trips
//   - Letting each backend pick the format that suits its medium
//
// Key Components:
//
//   - ICodec: Core interface that all codec implementations must satisfy.
//
//   - gobCodecImpl: Implementation using Go's built-in gob encoding. It
//     preserves the canonical value types exactly and is the default for
//     in-process stores.
//
//   - jsonCodecImpl: Implementation using JSON encoding, useful for
//     debugging and for file-based stores where snapshots should stay
//     human-readable. JSON flattens the value domain, so decoded
//     snapshots must be re-coerced against the declared schema.
//
// Thread Safety:
//
//	All codec implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
package codec
