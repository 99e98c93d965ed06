// Package cmap provides a concurrent map for the storage engine.
//
// The map is split into independently locked shards selected by key hash,
// so operations on disjoint keys rarely contend:
//
//   - Sharding: power-of-two shard count, 16 by default
//   - Fine-grained locking: per-shard RWMutex
//   - Iteration: shard-by-shard under read locks (not a snapshot)
//
// KeyLock complements the map with striped per-key mutual exclusion for
// multi-step operations (read, write to disk, swap in the index) on one key.
//
// Usage:
//
//	m := cmap.New[string, *Entry]()
//	m.Set("key", entry)
//	val, ok := m.Get("key")
package cmap
