package storage

import (
	"context"
	"time"

	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
	"github.com/fugue-ai/rhema-sub010/internal/storage/memory"
)

// recentWindow is the access window behind Stats.CacheHitRate.
const recentWindow = 24 * time.Hour

// Stats is a point-in-time summary of the store.
type Stats struct {
	EntryCount    int   `json:"entry_count" yaml:"entry_count"`
	TotalBytes    int64 `json:"total_bytes" yaml:"total_bytes"`
	OriginalBytes int64 `json:"original_bytes" yaml:"original_bytes"`
	CapacityBytes int64 `json:"capacity_bytes" yaml:"capacity_bytes"`

	// CacheHitRate approximates the hit rate as the fraction of entries
	// accessed within the last 24 hours.
	CacheHitRate float64 `json:"cache_hit_rate" yaml:"cache_hit_rate"`

	// CompressionRatio is TotalBytes / OriginalBytes; 1.0 when empty.
	CompressionRatio float64 `json:"compression_ratio" yaml:"compression_ratio"`

	Hits            uint64  `json:"hits" yaml:"hits"`
	Misses          uint64  `json:"misses" yaml:"misses"`
	MeasuredHitRate float64 `json:"measured_hit_rate" yaml:"measured_hit_rate"`

	Compressed int `json:"compressed" yaml:"compressed"`
	Encrypted  int `json:"encrypted" yaml:"encrypted"`
	References int `json:"references" yaml:"references"`
	Damaged    int `json:"damaged" yaml:"damaged"`
}

// Stats computes usage statistics.
func (m *Manager) Stats(_ context.Context) Stats {
	now := time.Now()
	s := Stats{
		CapacityBytes: m.cfg.CapacityBytes(),
		Hits:          m.hits.Load(),
		Misses:        m.misses.Load(),
	}

	recent := 0
	m.index.Range(func(_ string, rec *memory.Record) bool {
		s.EntryCount++
		s.TotalBytes += rec.Size
		if rec.Err != nil {
			s.Damaged++
			return true
		}
		e := rec.Entry
		s.OriginalBytes += e.Metadata.SizeBytes
		if e.Compressed {
			s.Compressed++
		}
		if e.Metadata.HasTag(domain.TagEncrypted) {
			s.Encrypted++
		}
		if e.IsReference() {
			s.References++
		}
		if now.Sub(e.Metadata.AccessedAt) <= recentWindow {
			recent++
		}
		return true
	})

	if s.EntryCount > 0 {
		s.CacheHitRate = float64(recent) / float64(s.EntryCount)
	}
	s.CompressionRatio = 1.0
	if s.OriginalBytes > 0 {
		s.CompressionRatio = float64(s.TotalBytes) / float64(s.OriginalBytes)
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.MeasuredHitRate = float64(s.Hits) / float64(total)
	}
	return s
}
