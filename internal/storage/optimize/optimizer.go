package optimize

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
	"github.com/fugue-ai/rhema-sub010/internal/storage"
	"github.com/fugue-ai/rhema-sub010/internal/telemetry/metric"
	"github.com/fugue-ai/rhema-sub010/pkg/compress"
	"github.com/fugue-ai/rhema-sub010/pkg/crypto/adaptive"
)

// Store is the subset of the storage manager the passes need.
// *storage.Manager implements it.
type Store interface {
	ListKeys(ctx context.Context) []string
	ListEntries(ctx context.Context) []storage.EntryInfo
	Inspect(ctx context.Context, key string) (*domain.Entry, error)
	Store(ctx context.Context, key string, data []byte, meta domain.Metadata, opts ...storage.StoreOption) error
	StoreEntry(ctx context.Context, e *domain.Entry, opts ...storage.StoreOption) error
	Delete(ctx context.Context, key string) (bool, error)
	AutoCleanup(ctx context.Context) (storage.CleanupResult, error)
	VerifyEntry(ctx context.Context, key string) (storage.Verification, error)
	RepairEntry(ctx context.Context, key string) error
	Stats(ctx context.Context) storage.Stats
}

// Config selects and tunes the passes.
type Config struct {
	EnableCleanup       bool
	EnableDeduplication bool

	EnableCompression    bool
	CompressionAlgorithm string
	CompressionLevel     int

	// EnableEncryption seals entries with Cipher; see NewCipher.
	EnableEncryption bool
	Cipher           adaptive.Cipher

	EnableValidation bool

	// MaxSizeGB enables the size cap pass when positive.
	MaxSizeGB float64

	// MaxOpsPerSecond throttles per-entry work. Zero means unlimited.
	MaxOpsPerSecond float64

	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// Optimizer runs maintenance passes over a Store.
type Optimizer struct {
	store   Store
	logger  *slog.Logger
	metrics *metric.Metrics
}

// New creates an Optimizer over store.
func New(store Store, logger *slog.Logger, metrics *metric.Metrics) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{
		store:   store,
		logger:  logger.With("component", "optimizer"),
		metrics: metrics,
	}
}

// run carries per-invocation state shared by the passes.
type run struct {
	store   Store
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *metric.Metrics
}

func (o *Optimizer) newRun(cfg Config) *run {
	limit := rate.Inf
	burst := 1
	if cfg.MaxOpsPerSecond > 0 {
		limit = rate.Limit(cfg.MaxOpsPerSecond)
		burst = max(1, int(cfg.MaxOpsPerSecond))
	}
	r := &run{
		store:   o.store,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		logger:  o.logger,
		metrics: o.metrics,
	}
	if cfg.Logger != nil {
		r.logger = cfg.Logger.With("component", "optimizer")
	}
	if cfg.Metrics != nil {
		r.metrics = cfg.Metrics
	}
	return r
}

// wait blocks until the throttle admits one more entry operation.
func (r *run) wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// OptimizeStorage runs every enabled pass in order: cleanup,
// deduplication, compression, encryption, validation, size cap.
// A pass error stops the run; the result holds the passes that finished.
func (o *Optimizer) OptimizeStorage(ctx context.Context, cfg Config) (*OptimizationResult, error) {
	if cfg.EnableCompression {
		if _, err := compress.Lookup(cfg.CompressionAlgorithm); err != nil {
			return nil, domain.ErrConfiguration.WithCause(err)
		}
	}
	if cfg.EnableEncryption && cfg.Cipher == nil {
		return nil, domain.ErrConfiguration.WithDetails("encryption enabled without a cipher")
	}

	r := o.newRun(cfg)
	res := &OptimizationResult{StartedAt: time.Now()}
	defer func() { res.Duration = time.Since(res.StartedAt) }()

	r.logger.Info("optimization started",
		"cleanup", cfg.EnableCleanup,
		"deduplication", cfg.EnableDeduplication,
		"compression", cfg.EnableCompression,
		"encryption", cfg.EnableEncryption,
		"validation", cfg.EnableValidation,
		"max_size_gb", cfg.MaxSizeGB)

	if cfg.EnableCleanup {
		start := time.Now()
		cr, err := r.store.AutoCleanup(ctx)
		r.metrics.ObservePass(PassCleanup, time.Since(start))
		if err != nil {
			return res, err
		}
		res.Cleanup = &cr
	}

	if cfg.EnableDeduplication {
		d, err := r.deduplicate(ctx)
		res.Dedup = d
		if err != nil {
			return res, err
		}
	}

	if cfg.EnableCompression {
		c, err := r.compress(ctx)
		res.Compression = c
		if err != nil {
			return res, err
		}
	}

	if cfg.EnableEncryption {
		e, err := r.encrypt(ctx)
		res.Encryption = e
		if err != nil {
			return res, err
		}
	}

	if cfg.EnableValidation {
		v, err := r.validate(ctx)
		res.Validation = v
		if err != nil {
			return res, err
		}
	}

	if cfg.MaxSizeGB > 0 {
		s, err := r.enforceSizeCap(ctx)
		res.SizeCap = s
		if err != nil {
			return res, err
		}
	}

	r.logger.Info("optimization completed", "elapsed", time.Since(res.StartedAt))
	return res, nil
}

// ValidateStorageIntegrity checks every entry and repairs what it can.
func (o *Optimizer) ValidateStorageIntegrity(ctx context.Context) (*ValidationResult, error) {
	return o.newRun(Config{}).validate(ctx)
}
