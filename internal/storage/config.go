package storage

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
	"github.com/fugue-ai/rhema-sub010/internal/telemetry/metric"
	"github.com/fugue-ai/rhema-sub010/pkg/compress"
	"github.com/fugue-ai/rhema-sub010/pkg/crypto/adaptive"
)

// Backend names.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Subdirectories of BasePath.
const (
	CacheDir     = "cache"
	SessionsDir  = "sessions"
	WorkflowsDir = "workflows"
	BackupsDir   = "backups"
)

// Default configuration values.
const (
	DefaultMaxSizeGB            = 10
	DefaultCompressionLevel     = compress.DefaultLevel
	DefaultBackupIntervalHours  = 24
	DefaultBackupRetention      = 7
	DefaultCleanupIntervalHours = 6
	DefaultUnusedAfter          = 30 * 24 * time.Hour
	DefaultMaxConcurrentIO      = 64
)

// BadgerConfig tunes the Badger backend.
type BadgerConfig struct {
	// CacheSize is the block cache size in bytes.
	CacheSize int64

	// ValueLogFileSize is the maximum value log file size in bytes.
	ValueLogFileSize int64

	// GCInterval is the value log GC period. Zero disables the loop.
	GCInterval time.Duration

	// GCThreshold is the discard ratio passed to RunValueLogGC.
	GCThreshold float64
}

// DefaultBadgerConfig returns Badger defaults sized for an embedded store.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		CacheSize:        64 << 20,
		ValueLogFileSize: 256 << 20,
		GCInterval:       10 * time.Minute,
		GCThreshold:      0.5,
	}
}

// Config configures the storage manager.
type Config struct {
	// BasePath is the root of the on-disk layout.
	BasePath string

	// MaxSizeGB caps the stored payload total. Zero or negative disables the cap.
	MaxSizeGB float64

	CompressionEnabled   bool
	CompressionAlgorithm string
	CompressionLevel     int

	// EnableChecksums stores a SHA-256 over each payload and verifies it on load.
	EnableChecksums bool

	BackupEnabled       bool
	BackupIntervalHours int
	BackupRetention     int

	CleanupEnabled       bool
	CleanupIntervalHours int

	// UnusedAfter is the idle period after which AutoCleanup removes an entry.
	// Zero means DefaultUnusedAfter.
	UnusedAfter time.Duration

	// DisableUnusedCleanup limits AutoCleanup to TTL expiry.
	DisableUnusedCleanup bool

	// Backend selects the persistence backend: "file" or "badger".
	Backend string
	Badger  BadgerConfig

	// SyncWrites fsyncs every write before it is acknowledged.
	SyncWrites bool

	// MaxConcurrentIO bounds concurrent file operations.
	MaxConcurrentIO int

	// Cipher opens entries sealed by the encryption pass. Optional.
	Cipher adaptive.Cipher

	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// DefaultConfig returns the default storage configuration.
func DefaultConfig(basePath string) Config {
	return Config{
		BasePath:             basePath,
		MaxSizeGB:            DefaultMaxSizeGB,
		CompressionEnabled:   true,
		CompressionAlgorithm: compress.Zstd,
		CompressionLevel:     DefaultCompressionLevel,
		EnableChecksums:      true,
		BackupEnabled:        false,
		BackupIntervalHours:  DefaultBackupIntervalHours,
		BackupRetention:      DefaultBackupRetention,
		CleanupEnabled:       true,
		CleanupIntervalHours: DefaultCleanupIntervalHours,
		UnusedAfter:          DefaultUnusedAfter,
		Backend:              BackendFile,
		Badger:               DefaultBadgerConfig(),
		MaxConcurrentIO:      DefaultMaxConcurrentIO,
		Logger:               slog.Default(),
	}
}

// CapacityBytes returns MaxSizeGB in bytes; zero means unlimited.
func (c Config) CapacityBytes() int64 {
	if c.MaxSizeGB <= 0 {
		return 0
	}
	return int64(c.MaxSizeGB * (1 << 30))
}

// CleanupInterval returns the background cleanup period; zero disables it.
func (c Config) CleanupInterval() time.Duration {
	if !c.CleanupEnabled || c.CleanupIntervalHours <= 0 {
		return 0
	}
	return time.Duration(c.CleanupIntervalHours) * time.Hour
}

// BackupInterval returns the background backup period; zero disables it.
func (c Config) BackupInterval() time.Duration {
	if !c.BackupEnabled || c.BackupIntervalHours <= 0 {
		return 0
	}
	return time.Duration(c.BackupIntervalHours) * time.Hour
}

// normalize fills zero values and validates the rest.
func (c *Config) normalize() error {
	if c.BasePath == "" {
		return domain.ErrConfiguration.WithDetails("base_path is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Backend == "" {
		c.Backend = BackendFile
	}
	if c.Backend != BackendFile && c.Backend != BackendBadger {
		return domain.ErrConfiguration.WithDetails(fmt.Sprintf("unknown backend %q", c.Backend))
	}
	if c.CompressionAlgorithm == "" {
		c.CompressionAlgorithm = compress.None
	}
	if _, err := compress.Lookup(c.CompressionAlgorithm); err != nil {
		return domain.ErrConfiguration.WithCause(err)
	}
	if c.MaxConcurrentIO <= 0 {
		c.MaxConcurrentIO = DefaultMaxConcurrentIO
	}
	if c.UnusedAfter < 0 {
		return domain.ErrConfiguration.WithDetails("unused_after must not be negative")
	}
	if c.UnusedAfter == 0 {
		c.UnusedAfter = DefaultUnusedAfter
	}
	if c.BackupRetention < 0 {
		return domain.ErrConfiguration.WithDetails("backup_retention must not be negative")
	}
	if c.Badger.GCThreshold <= 0 || c.Badger.GCThreshold >= 1 {
		c.Badger.GCThreshold = DefaultBadgerConfig().GCThreshold
	}
	return nil
}
