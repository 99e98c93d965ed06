package memory

import (
	"sort"
	"sync"

	"github.com/fugue-ai/rhema-sub010/pkg/cmap"
)

// KeySet is a concurrent-safe set of entry keys.
type KeySet struct {
	mu    sync.RWMutex
	items map[string]struct{}
}

// NewKeySet creates a new key set.
func NewKeySet() *KeySet {
	return &KeySet{
		items: make(map[string]struct{}),
	}
}

// Add adds a key to the set.
func (s *KeySet) Add(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = struct{}{}
}

// Remove removes a key from the set.
func (s *KeySet) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

// Contains checks if a key is in the set.
func (s *KeySet) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[key]
	return ok
}

// Len returns the number of items in the set.
func (s *KeySet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Items returns a sorted copy of all keys.
func (s *KeySet) Items() []string {
	s.mu.RLock()
	items := make([]string, 0, len(s.items))
	for k := range s.items {
		items = append(items, k)
	}
	s.mu.RUnlock()

	sort.Strings(items)
	return items
}

// TagIndex provides secondary indexing for entries by tag.
//
// It maintains a mapping from tag to the set of keys carrying it.
type TagIndex struct {
	mu    sync.Mutex // guards set removal against concurrent Add
	index *cmap.Map[string, *KeySet]
}

// NewTagIndex creates a new tag index.
func NewTagIndex() *TagIndex {
	return &TagIndex{
		index: cmap.New[string, *KeySet](),
	}
}

// Add records key under each tag.
func (i *TagIndex) Add(key string, tags ...string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, tag := range tags {
		set, _ := i.index.GetOrSet(tag, NewKeySet())
		set.Add(key)
	}
}

// Remove drops key from each tag, deleting tags left empty.
func (i *TagIndex) Remove(key string, tags ...string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, tag := range tags {
		set, ok := i.index.Get(tag)
		if !ok {
			continue
		}
		set.Remove(key)
		if set.Len() == 0 {
			i.index.Delete(tag)
		}
	}
}

// Get returns the sorted keys carrying tag.
func (i *TagIndex) Get(tag string) []string {
	set, ok := i.index.Get(tag)
	if !ok {
		return nil
	}
	return set.Items()
}

// Count returns the number of keys carrying tag.
func (i *TagIndex) Count(tag string) int {
	set, ok := i.index.Get(tag)
	if !ok {
		return 0
	}
	return set.Len()
}

// Tags returns all indexed tags, sorted.
func (i *TagIndex) Tags() []string {
	tags := i.index.Keys()
	sort.Strings(tags)
	return tags
}
