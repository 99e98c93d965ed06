package memory

import (
	"slices"
	"sort"
	"sync/atomic"

	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
	"github.com/fugue-ai/rhema-sub010/pkg/cmap"
)

// Record is the resident state of one entry.
//
// When Resident is false, Entry carries metadata and flags only and its
// Data is nil. Err is set for entries whose persisted form could not be
// decoded during recovery.
type Record struct {
	Entry    *domain.Entry
	Resident bool
	Size     int64
	Err      error
}

// Original returns the caller-visible size of the entry.
func (r *Record) Original() int64 {
	if r == nil || r.Entry == nil {
		return 0
	}
	return r.Entry.Metadata.SizeBytes
}

func (r *Record) tags() []string {
	if r == nil || r.Entry == nil {
		return nil
	}
	return r.Entry.Metadata.Tags
}

// Store is the resident entry index.
type Store struct {
	// Primary index: key -> Record
	records *cmap.Map[string, *Record]

	// Secondary index: tag -> set of keys
	tags *TagIndex

	// stored is the committed payload total; used additionally
	// includes in-flight reservations.
	stored   atomic.Int64
	used     atomic.Int64
	original atomic.Int64
}

// New creates a new empty index.
func New() *Store {
	return &Store{
		records: cmap.New[string, *Record](),
		tags:    NewTagIndex(),
	}
}

// Get returns the record for key.
func (s *Store) Get(key string) (*Record, bool) {
	return s.records.Get(key)
}

// Has reports whether key is indexed.
func (s *Store) Has(key string) bool {
	return s.records.Has(key)
}

// Reserve claims delta bytes of capacity. It fails without side effects
// when limit > 0 and the claim would push usage past limit.
// A non-positive delta always succeeds.
func (s *Store) Reserve(delta, limit int64) bool {
	if delta <= 0 || limit <= 0 {
		s.used.Add(delta)
		return true
	}
	for {
		cur := s.used.Load()
		if cur+delta > limit {
			return false
		}
		if s.used.CompareAndSwap(cur, cur+delta) {
			return true
		}
	}
}

// Release returns a reservation that was never committed.
func (s *Store) Release(delta int64) {
	s.used.Add(-delta)
}

// Put publishes rec, replacing any previous record for the key.
// reserved is the amount previously claimed with Reserve for this write.
func (s *Store) Put(rec *Record, reserved int64) (old *Record) {
	key := rec.Entry.Key
	var prevSize, prevOrig int64
	var prevTags []string

	s.records.Update(key, func(prev *Record, exists bool) *Record {
		if exists {
			old = prev
			prevSize = prev.Size
			prevOrig = prev.Original()
			prevTags = prev.tags()
		}
		return rec
	})

	delta := rec.Size - prevSize
	s.stored.Add(delta)
	s.used.Add(delta - reserved)
	s.original.Add(rec.Original() - prevOrig)

	newTags := rec.tags()
	var gone []string
	for _, t := range prevTags {
		if !slices.Contains(newTags, t) {
			gone = append(gone, t)
		}
	}
	s.tags.Remove(key, gone...)
	s.tags.Add(key, newTags...)

	return old
}

// Remove deletes key from the index.
func (s *Store) Remove(key string) (*Record, bool) {
	rec, ok := s.records.Pop(key)
	if !ok {
		return nil, false
	}
	s.stored.Add(-rec.Size)
	s.used.Add(-rec.Size)
	s.original.Add(-rec.Original())
	s.tags.Remove(key, rec.tags()...)
	return rec, true
}

// Keys returns all keys, sorted.
func (s *Store) Keys() []string {
	keys := s.records.Keys()
	sort.Strings(keys)
	return keys
}

// ByTag returns the sorted keys carrying tag.
func (s *Store) ByTag(tag string) []string {
	return s.tags.Get(tag)
}

// Range calls fn for each record until fn returns false.
// Records are immutable so fn may retain them.
func (s *Store) Range(fn func(key string, rec *Record) bool) {
	s.records.Range(fn)
}

// Count returns the number of indexed entries.
func (s *Store) Count() int {
	return s.records.Count()
}

// StoredBytes returns the committed payload total.
func (s *Store) StoredBytes() int64 {
	return s.stored.Load()
}

// UsedBytes returns committed plus reserved bytes.
func (s *Store) UsedBytes() int64 {
	return s.used.Load()
}

// OriginalBytes returns the caller-visible size total.
func (s *Store) OriginalBytes() int64 {
	return s.original.Load()
}
