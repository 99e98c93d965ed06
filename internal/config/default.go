package config

import (
	"time"

	"github.com/fugue-ai/rhema-sub010/internal/storage"
	"github.com/fugue-ai/rhema-sub010/internal/telemetry/logger"
	"github.com/fugue-ai/rhema-sub010/pkg/compress"
)

// Default configuration values.
const (
	DefaultBasePath = ".rhema/storage"

	DefaultEncryptionAlgorithm = "aes-256-gcm"
	DefaultMetricsInterval     = 15 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default configuration.
func Default() *Config {
	sc := storage.DefaultConfig(DefaultBasePath)

	return &Config{
		Storage: StorageSection{
			BasePath:             sc.BasePath,
			MaxSizeGB:            sc.MaxSizeGB,
			CompressionEnabled:   sc.CompressionEnabled,
			CompressionAlgorithm: sc.CompressionAlgorithm,
			CompressionLevel:     sc.CompressionLevel,
			EnableChecksums:      sc.EnableChecksums,
			BackupEnabled:        sc.BackupEnabled,
			BackupIntervalHours:  sc.BackupIntervalHours,
			BackupRetention:      sc.BackupRetention,
			CleanupEnabled:       sc.CleanupEnabled,
			CleanupIntervalHours: sc.CleanupIntervalHours,
			UnusedAfter:          sc.UnusedAfter,
			Backend:              sc.Backend,
			Badger: BadgerSection{
				CacheSize:        sc.Badger.CacheSize,
				ValueLogFileSize: sc.Badger.ValueLogFileSize,
				GCInterval:       sc.Badger.GCInterval,
				GCThreshold:      sc.Badger.GCThreshold,
			},
			SyncWrites:      sc.SyncWrites,
			MaxConcurrentIO: sc.MaxConcurrentIO,
		},
		Optimization: OptimizationSection{
			EnableCleanup:        true,
			EnableDeduplication:  true,
			EnableCompression:    true,
			CompressionAlgorithm: compress.Zstd,
			CompressionLevel:     compress.DefaultLevel,
			EnableValidation:     true,
		},
		Encryption: EncryptionSection{
			Algorithm: DefaultEncryptionAlgorithm,
		},
		Log: logger.Config{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Metrics: MetricsSection{
			Interval: DefaultMetricsInterval,
		},
	}
}
