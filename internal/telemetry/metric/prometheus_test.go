package metric

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	// None of these should panic.
	m.ObserveOp("store", time.Now(), nil)
	m.Hit()
	m.Miss()
	m.SetUsage(1, 2, 3)
	m.CleanupRemovedAdd("expired", 1)
	m.ObservePass("dedup", time.Second)
	m.PassItemsAdd("dedup", "processed", 1)
	m.DedupSaved(10)
	m.Corruption()
	m.Backup(nil)
	m.SetBadgerSize(1, 2)

	if m.Registry() != nil {
		t.Error("Registry() of nil Metrics should be nil")
	}
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err == nil {
		t.Error("WriteTextfile() on nil Metrics should fail")
	}
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := New()
	m.ObserveOp("store", time.Now(), nil)
	m.ObserveOp("retrieve", time.Now(), errors.New("boom"))
	m.Hit()
	m.Miss()
	m.Miss()
	m.SetUsage(3, 100, 250)
	m.CleanupRemovedAdd("unused", 2)
	m.DedupSaved(42)
	m.Backup(nil)

	path := filepath.Join(t.TempDir(), "textfile", "rhema.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	out := string(raw)

	wants := []string{
		`rhema_storage_operations_total{op="store",result="ok"} 1`,
		`rhema_storage_operations_total{op="retrieve",result="error"} 1`,
		`rhema_storage_cache_hits_total 1`,
		`rhema_storage_cache_misses_total 2`,
		`rhema_storage_entries 3`,
		`rhema_storage_original_bytes 250`,
		`rhema_cleanup_removed_total{reason="unused"} 2`,
		`rhema_optimize_dedup_bytes_saved_total 42`,
		`rhema_backup_created_total{result="ok"} 1`,
	}
	for _, w := range wants {
		if !strings.Contains(out, w) {
			t.Errorf("textfile missing %q", w)
		}
	}
}
