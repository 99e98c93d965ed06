package config

import (
	"time"

	"github.com/fugue-ai/rhema-sub010/internal/telemetry/logger"
)

// Config is the root configuration for rhema-store.
type Config struct {
	Storage      StorageSection      `koanf:"storage"`
	Optimization OptimizationSection `koanf:"optimization"`
	Encryption   EncryptionSection   `koanf:"encryption"`
	Log          logger.Config       `koanf:"log"`
	Metrics      MetricsSection      `koanf:"metrics"`
}

// StorageSection configures the storage manager.
type StorageSection struct {
	BasePath  string  `koanf:"base_path"`
	MaxSizeGB float64 `koanf:"max_size_gb"`

	CompressionEnabled   bool   `koanf:"compression_enabled"`
	CompressionAlgorithm string `koanf:"compression_algorithm"`
	CompressionLevel     int    `koanf:"compression_level"`

	EnableChecksums bool `koanf:"enable_checksums"`

	BackupEnabled       bool `koanf:"backup_enabled"`
	BackupIntervalHours int  `koanf:"backup_interval_hours"`
	BackupRetention     int  `koanf:"backup_retention"`

	CleanupEnabled       bool          `koanf:"cleanup_enabled"`
	CleanupIntervalHours int           `koanf:"cleanup_interval_hours"`
	UnusedAfter          time.Duration `koanf:"unused_after"`
	DisableUnusedCleanup bool          `koanf:"disable_unused_cleanup"`

	// Backend is "file" or "badger".
	Backend         string        `koanf:"backend"`
	Badger          BadgerSection `koanf:"badger"`
	SyncWrites      bool          `koanf:"sync_writes"`
	MaxConcurrentIO int           `koanf:"max_concurrent_io"`
}

// BadgerSection tunes the Badger backend.
type BadgerSection struct {
	CacheSize        int64         `koanf:"cache_size"`
	ValueLogFileSize int64         `koanf:"value_log_file_size"`
	GCInterval       time.Duration `koanf:"gc_interval"`
	GCThreshold      float64       `koanf:"gc_threshold"`
}

// OptimizationSection selects the optimization passes.
type OptimizationSection struct {
	EnableCleanup       bool `koanf:"enable_cleanup"`
	EnableDeduplication bool `koanf:"enable_deduplication"`

	EnableCompression    bool   `koanf:"enable_compression"`
	CompressionAlgorithm string `koanf:"compression_algorithm"`
	CompressionLevel     int    `koanf:"compression_level"`

	EnableEncryption bool `koanf:"enable_encryption"`
	EnableValidation bool `koanf:"enable_validation"`

	// MaxSizeGB enables the size cap pass when positive.
	MaxSizeGB float64 `koanf:"max_size_gb"`

	MaxOpsPerSecond float64 `koanf:"max_ops_per_sec"`

	// Interval runs the pipeline periodically under "serve". Zero disables it.
	Interval time.Duration `koanf:"interval"`
}

// EncryptionSection holds the key material for the encryption pass.
// KeyHex takes precedence over Passphrase.
type EncryptionSection struct {
	Algorithm  string `koanf:"algorithm"`
	KeyHex     string `koanf:"key_hex"`
	Passphrase string `koanf:"passphrase"`
	SaltHex    string `koanf:"salt_hex"`
}

// MetricsSection configures the Prometheus textfile export.
type MetricsSection struct {
	// TextfilePath is written every Interval under "serve". Empty disables it.
	TextfilePath string        `koanf:"textfile_path"`
	Interval     time.Duration `koanf:"interval"`
}
