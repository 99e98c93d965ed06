// Package optimize runs maintenance passes over a storage manager:
// cleanup, deduplication, compression, encryption, integrity validation
// and size capping.
//
// Passes take the per-key lock of each entry they rewrite and nothing
// more, so concurrent readers may observe an entry before or after its
// transform.
package optimize
