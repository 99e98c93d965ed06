package config

import (
	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
	"github.com/fugue-ai/rhema-sub010/internal/storage"
	"github.com/fugue-ai/rhema-sub010/internal/telemetry/logger"
	"github.com/fugue-ai/rhema-sub010/pkg/compress"
	"github.com/fugue-ai/rhema-sub010/pkg/crypto/adaptive"
)

// Verify validates the configuration. Every failure is ErrConfiguration.
func Verify(cfg *Config) error {
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := verifyOptimization(&cfg.Optimization); err != nil {
		return err
	}
	if err := verifyEncryption(cfg); err != nil {
		return err
	}
	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		return domain.ErrConfiguration.WithCause(err)
	}
	if cfg.Metrics.TextfilePath != "" && cfg.Metrics.Interval <= 0 {
		return domain.ErrConfiguration.WithDetails("metrics.interval must be positive when textfile_path is set")
	}
	return nil
}

func verifyStorage(s *StorageSection) error {
	if s.BasePath == "" {
		return domain.ErrConfiguration.WithDetails("storage.base_path is required")
	}
	switch s.Backend {
	case storage.BackendFile, storage.BackendBadger:
	default:
		return domain.ErrConfiguration.WithDetails("storage.backend must be file or badger, got " + s.Backend)
	}
	if s.CompressionEnabled {
		if _, err := compress.Lookup(s.CompressionAlgorithm); err != nil {
			return domain.ErrConfiguration.WithCause(err)
		}
	}
	if s.BackupEnabled && s.BackupRetention < 1 {
		return domain.ErrConfiguration.WithDetails("storage.backup_retention must be at least 1")
	}
	if s.UnusedAfter < 0 {
		return domain.ErrConfiguration.WithDetails("storage.unused_after must not be negative")
	}
	return nil
}

func verifyOptimization(o *OptimizationSection) error {
	if o.EnableCompression {
		if _, err := compress.Lookup(o.CompressionAlgorithm); err != nil {
			return domain.ErrConfiguration.WithCause(err)
		}
	}
	if o.MaxOpsPerSecond < 0 {
		return domain.ErrConfiguration.WithDetails("optimization.max_ops_per_sec must not be negative")
	}
	if o.Interval < 0 {
		return domain.ErrConfiguration.WithDetails("optimization.interval must not be negative")
	}
	return nil
}

func verifyEncryption(cfg *Config) error {
	e := &cfg.Encryption
	if _, err := adaptive.ParseCipherType(e.Algorithm); err != nil {
		return domain.ErrConfiguration.WithCause(err)
	}
	if cfg.Optimization.EnableEncryption && !e.HasKey() {
		return domain.ErrConfiguration.WithDetails("optimization.enable_encryption requires encryption.key_hex or encryption.passphrase")
	}
	if e.KeyHex == "" && e.Passphrase != "" && e.SaltHex == "" {
		return domain.ErrConfiguration.WithDetails("encryption.passphrase requires encryption.salt_hex")
	}
	return nil
}

// HasKey reports whether any key material is configured.
func (e EncryptionSection) HasKey() bool {
	return e.KeyHex != "" || e.Passphrase != ""
}
