// Package memory provides the resident index of the storage engine.
//
// The index maps every live key to a Record: the entry's metadata and
// flags, plus the payload when it is resident. It is built on sharded maps
// so disjoint keys never contend.
//
// Features:
//
//   - Sharded records: keys distributed across shards for parallelism
//   - Tag index: fast lookup of keys by tag
//   - Capacity accounting: atomic reservations so concurrent writers
//     cannot overrun the configured limit
//
// Thread Safety:
//
// Records are immutable once published; writers replace them whole.
// Callers serialize same-key writes with their own key lock.
package memory
