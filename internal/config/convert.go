package config

import (
	"context"
	"log/slog"

	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
	"github.com/fugue-ai/rhema-sub010/internal/storage"
	"github.com/fugue-ai/rhema-sub010/internal/storage/optimize"
	"github.com/fugue-ai/rhema-sub010/internal/telemetry/metric"
	"github.com/fugue-ai/rhema-sub010/pkg/crypto/adaptive"
)

// Cipher builds the entry cipher from the encryption section. It returns
// nil without error when no key material is configured.
func (c *Config) Cipher(ctx context.Context) (adaptive.Cipher, error) {
	e := c.Encryption
	if !e.HasKey() {
		return nil, nil
	}

	provider, err := adaptive.NewStaticKeyProvider(adaptive.KeyConfig{
		KeyHex:     e.KeyHex,
		Passphrase: []byte(e.Passphrase),
		SaltHex:    e.SaltHex,
	})
	if err != nil {
		return nil, domain.ErrConfiguration.WithCause(err)
	}
	return optimize.NewCipher(ctx, provider, e.Algorithm)
}

// ToStorage converts the storage section into a storage.Config.
func (c *Config) ToStorage(cipher adaptive.Cipher, logger *slog.Logger, metrics *metric.Metrics) storage.Config {
	s := c.Storage
	return storage.Config{
		BasePath:             s.BasePath,
		MaxSizeGB:            s.MaxSizeGB,
		CompressionEnabled:   s.CompressionEnabled,
		CompressionAlgorithm: s.CompressionAlgorithm,
		CompressionLevel:     s.CompressionLevel,
		EnableChecksums:      s.EnableChecksums,
		BackupEnabled:        s.BackupEnabled,
		BackupIntervalHours:  s.BackupIntervalHours,
		BackupRetention:      s.BackupRetention,
		CleanupEnabled:       s.CleanupEnabled,
		CleanupIntervalHours: s.CleanupIntervalHours,
		UnusedAfter:          s.UnusedAfter,
		DisableUnusedCleanup: s.DisableUnusedCleanup,
		Backend:              s.Backend,
		Badger: storage.BadgerConfig{
			CacheSize:        s.Badger.CacheSize,
			ValueLogFileSize: s.Badger.ValueLogFileSize,
			GCInterval:       s.Badger.GCInterval,
			GCThreshold:      s.Badger.GCThreshold,
		},
		SyncWrites:      s.SyncWrites,
		MaxConcurrentIO: s.MaxConcurrentIO,
		Cipher:          cipher,
		Logger:          logger,
		Metrics:         metrics,
	}
}

// ToOptimization converts the optimization section into an optimize.Config.
func (c *Config) ToOptimization(cipher adaptive.Cipher, logger *slog.Logger, metrics *metric.Metrics) optimize.Config {
	o := c.Optimization
	return optimize.Config{
		EnableCleanup:        o.EnableCleanup,
		EnableDeduplication:  o.EnableDeduplication,
		EnableCompression:    o.EnableCompression,
		CompressionAlgorithm: o.CompressionAlgorithm,
		CompressionLevel:     o.CompressionLevel,
		EnableEncryption:     o.EnableEncryption,
		Cipher:               cipher,
		EnableValidation:     o.EnableValidation,
		MaxSizeGB:            o.MaxSizeGB,
		MaxOpsPerSecond:      o.MaxOpsPerSecond,
		Logger:               logger,
		Metrics:              metrics,
	}
}
