// Package overlay provides typed stores for agent sessions and workflows on
// top of the storage manager.
//
// Each overlay keeps its own cache of encoded values. The cache is filled
// on store and retrieve and emptied only by the overlay's own delete,
// unless the overlay is created WithInvalidation, in which case manager
// change notifications evict affected entries as well.
package overlay
