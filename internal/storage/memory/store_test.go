package memory

import (
	"sync"
	"testing"

	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
)

func record(key string, size int64, tags ...string) *Record {
	e := &domain.Entry{Key: key, Data: make([]byte, size)}
	e.Metadata.SizeBytes = size * 2
	for _, t := range tags {
		e.Metadata.AddTag(t)
	}
	return &Record{Entry: e, Resident: true, Size: size}
}

func TestStore_PutReplaceRemove(t *testing.T) {
	s := New()

	if old := s.Put(record("a", 10, "x"), 0); old != nil {
		t.Fatalf("Put() new key returned old %v", old)
	}
	s.Put(record("b", 5, "x", "y"), 0)

	if s.Count() != 2 || s.StoredBytes() != 15 || s.OriginalBytes() != 30 {
		t.Fatalf("count=%d stored=%d original=%d", s.Count(), s.StoredBytes(), s.OriginalBytes())
	}

	// Replacing a drops tag x from a.
	old := s.Put(record("a", 3, "z"), 0)
	if old == nil || old.Size != 10 {
		t.Fatalf("Put() replace old = %v", old)
	}
	if s.StoredBytes() != 8 || s.UsedBytes() != 8 {
		t.Errorf("stored=%d used=%d, want 8", s.StoredBytes(), s.UsedBytes())
	}
	if got := s.ByTag("x"); len(got) != 1 || got[0] != "b" {
		t.Errorf("ByTag(x) = %v, want [b]", got)
	}
	if got := s.ByTag("z"); len(got) != 1 || got[0] != "a" {
		t.Errorf("ByTag(z) = %v, want [a]", got)
	}

	rec, ok := s.Remove("b")
	if !ok || rec.Size != 5 {
		t.Fatalf("Remove(b) = %v, %v", rec, ok)
	}
	if _, ok := s.Remove("b"); ok {
		t.Error("second Remove should report false")
	}
	if s.StoredBytes() != 3 || s.ByTag("y") != nil {
		t.Errorf("after remove stored=%d y=%v", s.StoredBytes(), s.ByTag("y"))
	}
	if keys := s.Keys(); len(keys) != 1 || keys[0] != "a" {
		t.Errorf("Keys() = %v", keys)
	}
}

func TestStore_Reserve(t *testing.T) {
	s := New()

	if !s.Reserve(60, 100) {
		t.Fatal("Reserve(60) under 100 should succeed")
	}
	if s.Reserve(50, 100) {
		t.Fatal("Reserve(50) with 60 used should fail")
	}
	s.Put(record("a", 60, ""), 60)
	if s.UsedBytes() != 60 {
		t.Fatalf("used = %d after commit, want 60", s.UsedBytes())
	}

	if !s.Reserve(40, 100) {
		t.Fatal("Reserve(40) reaching exactly the limit should succeed")
	}
	s.Release(40)
	if s.UsedBytes() != 60 {
		t.Errorf("used = %d after release, want 60", s.UsedBytes())
	}

	// Shrinking and unlimited reservations always succeed.
	if !s.Reserve(-10, 100) || !s.Reserve(1<<40, 0) {
		t.Error("non-positive delta or zero limit must succeed")
	}
}

func TestStore_ReserveConcurrent(t *testing.T) {
	s := New()
	const limit = 1000

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Reserve(10, limit) {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != limit/10 {
		t.Errorf("granted %d reservations, want %d", granted, limit/10)
	}
}

func TestTagIndex(t *testing.T) {
	idx := NewTagIndex()
	idx.Add("k2", "a", "b")
	idx.Add("k1", "a")

	if got := idx.Get("a"); len(got) != 2 || got[0] != "k1" {
		t.Errorf("Get(a) = %v, want sorted [k1 k2]", got)
	}
	if idx.Count("b") != 1 {
		t.Errorf("Count(b) = %d", idx.Count("b"))
	}

	idx.Remove("k2", "a", "b", "missing")
	if idx.Count("b") != 0 || idx.Get("b") != nil {
		t.Error("empty tag should be dropped")
	}
	if tags := idx.Tags(); len(tags) != 1 || tags[0] != "a" {
		t.Errorf("Tags() = %v", tags)
	}
}

func TestKeySet(t *testing.T) {
	s := NewKeySet()
	s.Add("b")
	s.Add("a")
	s.Add("a")
	if s.Len() != 2 || !s.Contains("a") {
		t.Fatalf("Len=%d", s.Len())
	}
	if items := s.Items(); items[0] != "a" || items[1] != "b" {
		t.Errorf("Items() = %v", items)
	}
	s.Remove("a")
	if s.Contains("a") {
		t.Error("Remove failed")
	}
}
