package optimize

import (
	"time"

	"github.com/fugue-ai/rhema-sub010/internal/storage"
)

// Pass names, in execution order.
const (
	PassCleanup     = "cleanup"
	PassDedup       = "deduplication"
	PassCompression = "compression"
	PassEncryption  = "encryption"
	PassValidation  = "validation"
	PassSizeCap     = "size_cap"
)

// OptimizationResult collects the outcome of one OptimizeStorage run.
// A nil pass result means the pass was disabled.
type OptimizationResult struct {
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`

	Cleanup     *storage.CleanupResult `json:"cleanup,omitempty" yaml:"cleanup,omitempty"`
	Dedup       *DedupResult           `json:"deduplication,omitempty" yaml:"deduplication,omitempty"`
	Compression *CompressionResult     `json:"compression,omitempty" yaml:"compression,omitempty"`
	Encryption  *EncryptionResult      `json:"encryption,omitempty" yaml:"encryption,omitempty"`
	Validation  *ValidationResult      `json:"validation,omitempty" yaml:"validation,omitempty"`
	SizeCap     *SizeCapResult         `json:"size_cap,omitempty" yaml:"size_cap,omitempty"`
}

// CompressionResult reports the compression pass.
type CompressionResult struct {
	Processed       int           `json:"processed" yaml:"processed"`
	Compressed      int           `json:"compressed" yaml:"compressed"`
	Skipped         int           `json:"skipped" yaml:"skipped"`
	Failed          int           `json:"failed" yaml:"failed"`
	OriginalBytes   int64         `json:"original_bytes" yaml:"original_bytes"`
	CompressedBytes int64         `json:"compressed_bytes" yaml:"compressed_bytes"`
	Duration        time.Duration `json:"duration" yaml:"duration"`
}

// Ratio returns compressed/original over the entries that were replaced,
// or 1.0 when nothing was.
func (r *CompressionResult) Ratio() float64 {
	if r.OriginalBytes == 0 {
		return 1.0
	}
	return float64(r.CompressedBytes) / float64(r.OriginalBytes)
}

// BytesSaved returns the reduction achieved by the pass.
func (r *CompressionResult) BytesSaved() int64 {
	return r.OriginalBytes - r.CompressedBytes
}

// EncryptionResult reports the encryption pass.
type EncryptionResult struct {
	Processed int           `json:"processed" yaml:"processed"`
	Encrypted int           `json:"encrypted" yaml:"encrypted"`
	Skipped   int           `json:"skipped" yaml:"skipped"`
	Failed    int           `json:"failed" yaml:"failed"`
	Algorithm string        `json:"algorithm" yaml:"algorithm"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}

// DedupResult reports the deduplication pass.
type DedupResult struct {
	Scanned           int           `json:"scanned" yaml:"scanned"`
	DuplicatesRemoved int           `json:"duplicates_removed" yaml:"duplicates_removed"`
	Canonicals        int           `json:"canonicals" yaml:"canonicals"`
	BytesSaved        int64         `json:"bytes_saved" yaml:"bytes_saved"`
	Failed            int           `json:"failed" yaml:"failed"`
	Duration          time.Duration `json:"duration" yaml:"duration"`
}

// ValidationResult reports an integrity validation run.
type ValidationResult struct {
	Checked          int           `json:"checked" yaml:"checked"`
	Valid            int           `json:"valid" yaml:"valid"`
	Corrupted        []string      `json:"corrupted,omitempty" yaml:"corrupted,omitempty"`
	Repaired         []string      `json:"repaired,omitempty" yaml:"repaired,omitempty"`
	RepairFailed     []string      `json:"repair_failed,omitempty" yaml:"repair_failed,omitempty"`
	BrokenReferences []string      `json:"broken_references,omitempty" yaml:"broken_references,omitempty"`
	Duration         time.Duration `json:"duration" yaml:"duration"`
}

// Healthy reports whether every entry is intact after repairs.
func (r *ValidationResult) Healthy() bool {
	return len(r.RepairFailed) == 0 && len(r.BrokenReferences) == 0
}

// SizeCapResult reports the size cap pass.
type SizeCapResult struct {
	LimitBytes  int64         `json:"limit_bytes" yaml:"limit_bytes"`
	BeforeBytes int64         `json:"before_bytes" yaml:"before_bytes"`
	AfterBytes  int64         `json:"after_bytes" yaml:"after_bytes"`
	Evicted     int           `json:"evicted" yaml:"evicted"`
	BytesFreed  int64         `json:"bytes_freed" yaml:"bytes_freed"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
}
