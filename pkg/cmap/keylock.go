package cmap

import (
	"hash/maphash"
	"sync"
)

// DefaultStripes is the default number of lock stripes.
const DefaultStripes = 64

// KeyLock provides mutual exclusion per key using a fixed set of stripes.
//
// Two keys may share a stripe; callers must never hold two stripes at once.
type KeyLock[K comparable] struct {
	stripes []sync.Mutex
	mask    uint64
	seed    maphash.Seed
}

// NewKeyLock creates a striped lock. stripes must be a power of 2.
func NewKeyLock[K comparable](stripes int) *KeyLock[K] {
	if stripes <= 0 || stripes&(stripes-1) != 0 {
		stripes = DefaultStripes
	}
	return &KeyLock[K]{
		stripes: make([]sync.Mutex, stripes),
		mask:    uint64(stripes - 1),
		seed:    maphash.MakeSeed(),
	}
}

// Lock locks key's stripe and returns the matching unlock function.
func (l *KeyLock[K]) Lock(key K) (unlock func()) {
	mu := &l.stripes[maphash.Comparable(l.seed, key)&l.mask]
	mu.Lock()
	return mu.Unlock
}
