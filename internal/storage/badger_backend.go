package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
	"github.com/fugue-ai/rhema-sub010/internal/telemetry/metric"
)

// badgerBackend stores envelopes in an embedded Badger database.
type badgerBackend struct {
	db      *badger.DB
	cfg     BadgerConfig
	logger  *slog.Logger
	metrics *metric.Metrics

	stopCh chan struct{}
	doneCh chan struct{}
}

func newBadgerBackend(dir string, cfg BadgerConfig, syncWrites bool, logger *slog.Logger, metrics *metric.Metrics) (*badgerBackend, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = &badgerLogger{logger: logger}
	opts.SyncWrites = syncWrites
	if cfg.CacheSize > 0 {
		opts.BlockCacheSize = cfg.CacheSize
	}
	if cfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = cfg.ValueLogFileSize
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, domain.ErrDatabase.WithCause(fmt.Errorf("open %s: %w", dir, err))
	}

	b := &badgerBackend{
		db:      db,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go b.gcLoop()

	logger.Info("badger backend opened",
		"dir", dir,
		"cache_size", cfg.CacheSize,
		"gc_interval", cfg.GCInterval)

	return b, nil
}

func (b *badgerBackend) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return domain.ErrDatabase.WithCause(err)
	}
	return nil
}

func (b *badgerBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, domain.ErrDatabase.WithCause(err)
	}
	return value, nil
}

func (b *badgerBackend) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	existed := false
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		existed = true
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return false, domain.ErrDatabase.WithCause(err)
	}
	return existed, nil
}

func (b *badgerBackend) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, domain.ErrDatabase.WithCause(err)
	}
	return keys, nil
}

// Export writes a full Badger backup stream to w.
func (b *badgerBackend) Export(ctx context.Context, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.db.Backup(w, 0); err != nil {
		return domain.ErrDatabase.WithCause(fmt.Errorf("backup: %w", err))
	}
	return nil
}

// ExportName is the archive member name of the export stream.
func (b *badgerBackend) ExportName() string {
	return CacheDir + ".badger"
}

// GC runs value log GC until Badger reports nothing left to rewrite.
func (b *badgerBackend) GC() (int, error) {
	start := time.Now()
	runs := 0
	for {
		err := b.db.RunValueLogGC(b.cfg.GCThreshold)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) {
				break
			}
			return runs, domain.ErrDatabase.WithCause(fmt.Errorf("gc: %w", err))
		}
		runs++
	}

	lsm, vlog := b.db.Size()
	b.metrics.SetBadgerSize(lsm, vlog)
	b.logger.Debug("badger gc completed",
		"rewrites", runs,
		"lsm_size", lsm,
		"vlog_size", vlog,
		"elapsed", time.Since(start))
	return runs, nil
}

func (b *badgerBackend) gcLoop() {
	defer close(b.doneCh)

	if b.cfg.GCInterval <= 0 {
		<-b.stopCh
		return
	}

	ticker := time.NewTicker(b.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := b.GC(); err != nil {
				b.logger.Error("badger gc failed", "error", err)
			}
		case <-b.stopCh:
			return
		}
	}
}

func (b *badgerBackend) Close() error {
	close(b.stopCh)
	<-b.doneCh

	if err := b.db.Close(); err != nil {
		return domain.ErrDatabase.WithCause(fmt.Errorf("close: %w", err))
	}
	b.logger.Info("badger backend closed")
	return nil
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
