package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
	"github.com/fugue-ai/rhema-sub010/internal/storage/backup"
	"github.com/fugue-ai/rhema-sub010/internal/storage/memory"
	"github.com/fugue-ai/rhema-sub010/internal/telemetry/metric"
	"github.com/fugue-ai/rhema-sub010/pkg/checksum"
	"github.com/fugue-ai/rhema-sub010/pkg/cmap"
	"github.com/fugue-ai/rhema-sub010/pkg/compress"
)

// ErrClosed is returned by operations on a closed Manager.
var ErrClosed = errors.New("storage: manager closed")

// ErrConflict is returned by conditional writes whose entry changed.
var ErrConflict = errors.New("storage: entry changed concurrently")

// Manager owns the on-disk layout, the resident index, and all CRUD paths.
type Manager struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics

	backend Backend
	index   *memory.Store
	locks   *cmap.KeyLock[string]
	codec   compress.Codec
	loads   singleflight.Group
	backups *backup.Manager
	subs    subscribers

	hits   atomic.Uint64
	misses atomic.Uint64

	closed atomic.Bool
	stopCh chan struct{}
	doneCh chan struct{}
}

// Open creates the directory layout, opens the backend, rebuilds the index
// and starts background maintenance.
func Open(ctx context.Context, cfg Config) (*Manager, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	for _, dir := range []string{CacheDir, SessionsDir, WorkflowsDir, BackupsDir} {
		if err := os.MkdirAll(filepath.Join(cfg.BasePath, dir), 0o755); err != nil {
			return nil, domain.ErrFileSystem.WithCause(err)
		}
	}

	codec, err := compress.Lookup(cfg.CompressionAlgorithm)
	if err != nil {
		return nil, domain.ErrConfiguration.WithCause(err)
	}

	m := &Manager{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "storage"),
		metrics: cfg.Metrics,
		index:   memory.New(),
		locks:   cmap.NewKeyLock[string](cmap.DefaultStripes),
		codec:   codec,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	cacheDir := filepath.Join(cfg.BasePath, CacheDir)
	switch cfg.Backend {
	case BackendBadger:
		m.backend, err = newBadgerBackend(cacheDir, cfg.Badger, cfg.SyncWrites, m.logger, m.metrics)
	default:
		m.backend, err = newFileBackend(cacheDir, cfg.SyncWrites, cfg.MaxConcurrentIO)
	}
	if err != nil {
		return nil, err
	}

	if cfg.BackupEnabled {
		bcfg := backup.Config{
			Dir:       filepath.Join(cfg.BasePath, BackupsDir),
			Retention: cfg.BackupRetention,
			Logger:    m.logger,
			Metrics:   m.metrics,
			Sources: []backup.Source{
				{Name: SessionsDir, Path: filepath.Join(cfg.BasePath, SessionsDir)},
				{Name: WorkflowsDir, Path: filepath.Join(cfg.BasePath, WorkflowsDir)},
			},
		}
		if exp, ok := m.backend.(Exporter); ok {
			bcfg.Exporter = exp
		} else {
			bcfg.Sources = append([]backup.Source{{Name: CacheDir, Path: cacheDir}}, bcfg.Sources...)
		}
		if m.backups, err = backup.NewManager(bcfg); err != nil {
			m.backend.Close()
			return nil, domain.ErrFileSystem.WithCause(err)
		}
	}

	if err := m.recover(ctx); err != nil {
		m.backend.Close()
		return nil, err
	}

	go m.backgroundLoop()
	return m, nil
}

// recover rebuilds the index from the backend. Payloads are not kept
// resident; they load on first access.
func (m *Manager) recover(ctx context.Context) error {
	start := time.Now()

	keys, err := m.backend.Keys(ctx)
	if err != nil {
		return err
	}

	damaged := 0
	for _, key := range keys {
		raw, err := m.backend.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}

		e, err := decodeEnvelope(raw)
		if err == nil && e.Key != key {
			err = domain.ErrSerialization.WithDetails(fmt.Sprintf("envelope key %q stored under %q", e.Key, key))
		}
		if err != nil {
			damaged++
			m.logger.Warn("damaged entry found during recovery", "key", key, "error", err)
			m.index.Put(&memory.Record{Entry: &domain.Entry{Key: key}, Err: err}, 0)
			continue
		}

		size := e.StoredSize()
		e.Data = nil
		m.index.Put(&memory.Record{Entry: e, Size: size}, 0)
	}

	m.updateUsage()
	m.logger.Info("storage recovery completed",
		"entries", m.index.Count(),
		"damaged", damaged,
		"stored_bytes", m.index.StoredBytes(),
		"elapsed", time.Since(start))
	return nil
}

func (m *Manager) checkOpen() error {
	if m.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Store writes data under key, replacing any previous entry.
func (m *Manager) Store(ctx context.Context, key string, data []byte, meta domain.Metadata, opts ...StoreOption) (err error) {
	start := time.Now()
	defer func() { m.metrics.ObserveOp("store", start, err) }()

	if err := m.checkOpen(); err != nil {
		return err
	}
	if err := domain.ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}

	e, err := m.buildEntry(key, data, meta, o)
	if err != nil {
		return err
	}
	if err := m.put(ctx, e, int64(len(data)), m.precondition(ctx, o)); err != nil {
		return err
	}
	m.subs.notify(Change{Op: ChangeStore, Key: key})
	return nil
}

// StoreEntry writes a fully prepared entry verbatim. Optimization passes
// use it to replace payloads without re-running write-time transforms.
// The checksum is recomputed when checksums are enabled. Of the options
// only IfUnchanged applies.
func (m *Manager) StoreEntry(ctx context.Context, e *domain.Entry, opts ...StoreOption) (err error) {
	start := time.Now()
	defer func() { m.metrics.ObserveOp("store_entry", start, err) }()

	if err := m.checkOpen(); err != nil {
		return err
	}
	if e == nil {
		return domain.ErrSerialization.WithDetails("entry is nil")
	}
	if err := domain.ValidateKey(e.Key); err != nil {
		return err
	}

	c := e.Clone()
	if c.Data == nil {
		c.Data = []byte{}
	}
	if c.Metadata.CreatedAt.IsZero() {
		c.Metadata.CreatedAt = time.Now()
	}
	if c.Metadata.AccessedAt.Before(c.Metadata.CreatedAt) {
		c.Metadata.AccessedAt = c.Metadata.CreatedAt
	}
	if c.Metadata.ContentType == "" {
		c.Metadata.ContentType = domain.ContentOther
	}
	c.Checksum = nil
	if m.cfg.EnableChecksums {
		c.Checksum = checksum.Sum(c.Data)
	}
	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := m.put(ctx, c, c.StoredSize(), m.precondition(ctx, o)); err != nil {
		return err
	}
	m.subs.notify(Change{Op: ChangeStore, Key: c.Key})
	return nil
}

// buildEntry applies write-time transforms to a caller payload.
func (m *Manager) buildEntry(key string, data []byte, meta domain.Metadata, o storeOptions) (*domain.Entry, error) {
	now := time.Now()
	meta = meta.Clone()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	if meta.AccessedAt.Before(meta.CreatedAt) {
		meta.AccessedAt = meta.CreatedAt
	}
	if meta.ContentType == "" {
		meta.ContentType = domain.ContentOther
	}
	meta.StripTransformTags()

	e := &domain.Entry{Key: key}

	switch {
	case o.reference != "":
		if err := domain.ValidateKey(o.reference); err != nil {
			return nil, err
		}
		if meta.SizeBytes == 0 {
			meta.SizeBytes = int64(len(data))
		}
		e.Data = []byte(o.reference)
		e.Reference = o.reference
		meta.AddTag(domain.TagDedupReference)

	case o.codec != "":
		if _, err := compress.Lookup(o.codec); err != nil {
			return nil, domain.ErrCompression.WithCause(err)
		}
		if meta.SizeBytes == 0 {
			meta.SizeBytes = int64(len(data))
		}
		e.Data = append([]byte(nil), data...)
		if o.codec != compress.None {
			e.Compressed = true
			e.Codec = o.codec
			meta.AddTag(domain.TagCompressed)
		}

	default:
		meta.SizeBytes = int64(len(data))
		e.Data = append([]byte{}, data...)
		if m.cfg.CompressionEnabled && m.codec.Name() != compress.None && !meta.HasTag(domain.TagEncrypted) && len(data) > 0 {
			packed, err := m.codec.Compress(data, m.cfg.CompressionLevel)
			if err != nil {
				return nil, domain.ErrCompression.WithCause(err)
			}
			if len(packed) < len(data) {
				e.Data = packed
				e.Compressed = true
				e.Codec = m.codec.Name()
				meta.AddTag(domain.TagCompressed)
			}
		}
	}

	e.Metadata = meta
	if m.cfg.EnableChecksums {
		e.Checksum = checksum.Sum(e.Data)
	}
	return e, nil
}

// precondition returns the IfUnchanged check for o, or nil.
func (m *Manager) precondition(ctx context.Context, o storeOptions) func(string, *memory.Record) error {
	if !o.conditional {
		return nil
	}
	return func(key string, rec *memory.Record) error {
		if rec == nil {
			return ErrConflict
		}
		cur, err := m.residentOrLoad(ctx, key, rec)
		if err != nil {
			return err
		}
		if cur == nil || !bytes.Equal(cur.Data, o.ifUnchanged) {
			return ErrConflict
		}
		return nil
	}
}

// put persists e and publishes it in the index under the key lock.
// incoming is the caller-visible payload length used for the capacity check.
// check, when set, runs under the lock against the current record.
func (m *Manager) put(ctx context.Context, e *domain.Entry, incoming int64, check func(string, *memory.Record) error) error {
	unlock := m.locks.Lock(e.Key)
	defer unlock()

	rec, ok := m.index.Get(e.Key)
	if check != nil {
		if !ok {
			rec = nil
		}
		if err := check(e.Key, rec); err != nil {
			return err
		}
		rec, ok = m.index.Get(e.Key)
	}

	var existing int64
	if ok {
		existing = rec.Size
	}

	reserve := incoming - existing
	if !m.index.Reserve(reserve, m.cfg.CapacityBytes()) {
		return domain.ErrStorageFull.WithDetails(fmt.Sprintf(
			"key %s needs %d bytes, %d of %d in use", e.Key, incoming, m.index.UsedBytes(), m.cfg.CapacityBytes()))
	}

	if err := m.persist(ctx, e); err != nil {
		m.index.Release(reserve)
		return err
	}

	m.index.Put(&memory.Record{Entry: e, Resident: true, Size: e.StoredSize()}, reserve)
	m.updateUsage()
	return nil
}

func (m *Manager) persist(ctx context.Context, e *domain.Entry) error {
	frame, err := encodeEnvelope(e)
	if err != nil {
		return err
	}
	return m.backend.Put(ctx, e.Key, frame)
}

// Retrieve returns the stored entry for key with its payload exactly as
// stored, which may be compressed, encrypted, or a reference. Use Load for
// the original bytes. An unknown key yields (nil, nil).
//
// Every successful retrieve bumps AccessedAt and re-persists the entry.
func (m *Manager) Retrieve(ctx context.Context, key string) (e *domain.Entry, err error) {
	start := time.Now()
	defer func() { m.metrics.ObserveOp("retrieve", start, err) }()

	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	rec, ok := m.index.Get(key)
	if !ok {
		m.miss()
		return nil, nil
	}

	if rec.Resident {
		m.hit()
		e, err = m.touch(ctx, key)
	} else {
		m.miss()
		v, err, _ := m.loads.Do(key, func() (any, error) {
			return m.touch(ctx, key)
		})
		if err != nil {
			return nil, err
		}
		e, _ = v.(*domain.Entry)
	}
	if err != nil || e == nil {
		return nil, err
	}
	return e.Clone(), nil
}

// touch loads the payload if needed, bumps AccessedAt and re-persists.
func (m *Manager) touch(ctx context.Context, key string) (*domain.Entry, error) {
	unlock := m.locks.Lock(key)
	defer unlock()

	rec, ok := m.index.Get(key)
	if !ok {
		return nil, nil
	}

	e, err := m.residentOrLoad(ctx, key, rec)
	if err != nil || e == nil {
		return nil, err
	}

	e = e.Clone()
	e.Metadata.AccessedAt = time.Now()
	if err := m.persist(ctx, e); err != nil {
		return nil, err
	}
	m.index.Put(&memory.Record{Entry: e, Resident: true, Size: e.StoredSize()}, 0)
	return e, nil
}

// residentOrLoad returns the payload-bearing entry for rec, loading and
// verifying it from the backend when it is not resident. Callers hold the
// key lock. The returned entry must not be mutated.
func (m *Manager) residentOrLoad(ctx context.Context, key string, rec *memory.Record) (*domain.Entry, error) {
	if rec.Err != nil {
		m.metrics.Corruption()
		return nil, domain.ErrDataCorruption.WithDetails("key " + key).WithCause(rec.Err)
	}
	if rec.Resident {
		return rec.Entry, nil
	}

	e, err := m.readPersisted(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Removed out from under the index.
			m.index.Remove(key)
			m.updateUsage()
			return nil, nil
		}
		return nil, err
	}
	if err := verifyEntry(e); err != nil {
		m.metrics.Corruption()
		m.logger.Warn("checksum mismatch on load", "key", key)
		return nil, err
	}
	return e, nil
}

// readPersisted decodes the backend copy of key without verifying the
// payload checksum.
func (m *Manager) readPersisted(ctx context.Context, key string) (*domain.Entry, error) {
	raw, err := m.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	e, err := decodeEnvelope(raw)
	if err != nil {
		return nil, domain.ErrDataCorruption.WithDetails("key " + key).WithCause(err)
	}
	if e.Key != key {
		return nil, domain.ErrDataCorruption.WithDetails(fmt.Sprintf("envelope key %q stored under %q", e.Key, key))
	}
	return e, nil
}

func verifyEntry(e *domain.Entry) error {
	if len(e.Checksum) == 0 {
		return nil
	}
	if !checksum.Verify(e.Data, e.Checksum) {
		return domain.ErrDataCorruption.WithDetails("checksum mismatch for key " + e.Key)
	}
	return nil
}

// Inspect returns the entry for key like Retrieve but without bumping
// AccessedAt, re-persisting, or changing residency. Unknown keys yield
// (nil, nil). Maintenance passes read through Inspect so they do not make
// every entry look recently used.
func (m *Manager) Inspect(ctx context.Context, key string) (*domain.Entry, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(key)
	defer unlock()

	rec, ok := m.index.Get(key)
	if !ok {
		return nil, nil
	}
	e, err := m.residentOrLoad(ctx, key, rec)
	if err != nil || e == nil {
		return nil, err
	}
	return e.Clone(), nil
}

// Delete removes key from the index and the backend and reports whether
// either held it.
func (m *Manager) Delete(ctx context.Context, key string) (removed bool, err error) {
	start := time.Now()
	defer func() { m.metrics.ObserveOp("delete", start, err) }()

	if err := m.checkOpen(); err != nil {
		return false, err
	}

	removed, err = m.remove(ctx, key, nil)
	if err != nil {
		return removed, err
	}
	if removed {
		m.subs.notify(Change{Op: ChangeDelete, Key: key})
	}
	return removed, nil
}

// remove deletes key when pred is nil or approves the current record.
func (m *Manager) remove(ctx context.Context, key string, pred func(*memory.Record) bool) (bool, error) {
	unlock := m.locks.Lock(key)
	defer unlock()

	rec, inIndex := m.index.Get(key)
	if pred != nil && (!inIndex || !pred(rec)) {
		return false, nil
	}

	onDisk, err := m.backend.Delete(ctx, key)
	if err != nil {
		return false, err
	}
	if inIndex {
		m.index.Remove(key)
		m.updateUsage()
	}
	return inIndex || onDisk, nil
}

// ListKeys returns all live keys, sorted.
func (m *Manager) ListKeys(_ context.Context) []string {
	return m.index.Keys()
}

// ListByTag returns the sorted keys carrying tag.
func (m *Manager) ListByTag(_ context.Context, tag string) []string {
	return m.index.ByTag(tag)
}

// EntryInfo describes an entry without its payload.
type EntryInfo struct {
	Key         string
	Metadata    domain.Metadata
	StoredBytes int64
	Compressed  bool
	Codec       string
	Reference   string
	Resident    bool
	Damaged     bool
}

// ListEntries returns descriptors for all entries, sorted by key.
func (m *Manager) ListEntries(_ context.Context) []EntryInfo {
	keys := m.index.Keys()
	out := make([]EntryInfo, 0, len(keys))
	for _, k := range keys {
		rec, ok := m.index.Get(k)
		if !ok {
			continue
		}
		out = append(out, EntryInfo{
			Key:         k,
			Metadata:    rec.Entry.Metadata.Clone(),
			StoredBytes: rec.Size,
			Compressed:  rec.Entry.Compressed,
			Codec:       rec.Entry.Codec,
			Reference:   rec.Entry.Reference,
			Resident:    rec.Resident,
			Damaged:     rec.Err != nil,
		})
	}
	return out
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// BasePath returns the root of the on-disk layout.
func (m *Manager) BasePath() string {
	return m.cfg.BasePath
}

// Backups returns the backup manager, or nil when backups are disabled.
func (m *Manager) Backups() *backup.Manager {
	return m.backups
}

// CreateBackup archives the data directories and prunes old archives.
func (m *Manager) CreateBackup(ctx context.Context) (string, error) {
	if err := m.checkOpen(); err != nil {
		return "", err
	}
	if m.backups == nil {
		return "", domain.ErrConfiguration.WithDetails("backups are disabled")
	}

	info, err := m.backups.Create(ctx)
	if err != nil {
		return "", domain.ErrFileSystem.WithCause(err)
	}
	if _, err := m.backups.Prune(); err != nil {
		m.logger.Warn("backup prune failed", "error", err)
	}
	return info.Path, nil
}

func (m *Manager) hit() {
	m.hits.Add(1)
	m.metrics.Hit()
}

func (m *Manager) miss() {
	m.misses.Add(1)
	m.metrics.Miss()
}

func (m *Manager) updateUsage() {
	m.metrics.SetUsage(m.index.Count(), m.index.StoredBytes(), m.index.OriginalBytes())
}

// backgroundLoop runs periodic cleanup and backups.
func (m *Manager) backgroundLoop() {
	defer close(m.doneCh)

	cleanupC := tickerChan(m.cfg.CleanupInterval())
	backupC := tickerChan(m.cfg.BackupInterval())

	for {
		select {
		case <-cleanupC:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			res, err := m.AutoCleanup(ctx)
			cancel()
			if err != nil {
				m.logger.Error("auto cleanup failed", "error", err)
			} else if res.Removed() > 0 {
				m.logger.Info("auto cleanup completed",
					"expired", res.ExpiredRemoved,
					"unused", res.UnusedRemoved,
					"bytes_freed", res.BytesFreed)
			}

		case <-backupC:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			if _, err := m.CreateBackup(ctx); err != nil {
				m.logger.Error("auto backup failed", "error", err)
			}
			cancel()

		case <-m.stopCh:
			return
		}
	}
}

// tickerChan returns a channel that fires every d, or nil when d is zero.
// The ticker is never stopped; it lives as long as the Manager.
func tickerChan(d time.Duration) <-chan time.Time {
	if d <= 0 {
		return nil
	}
	return time.NewTicker(d).C
}

// Close stops background maintenance and closes the backend.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(m.stopCh)
	<-m.doneCh

	if err := m.backend.Close(); err != nil {
		m.logger.Error("close backend failed", "error", err)
		return err
	}
	m.logger.Info("storage manager closed")
	return nil
}

// ChangeOp is the kind of mutation a Change reports.
type ChangeOp string

const (
	ChangeStore  ChangeOp = "store"
	ChangeDelete ChangeOp = "delete"
)

// Change describes one committed mutation.
type Change struct {
	Op  ChangeOp
	Key string
}

// Subscribe registers fn for change notifications and returns a cancel
// function. fn runs synchronously after the mutation commits and must not
// call back into the Manager for the same key.
func (m *Manager) Subscribe(fn func(Change)) (cancel func()) {
	return m.subs.add(fn)
}

type subscribers struct {
	mu   sync.RWMutex
	next int
	fns  map[int]func(Change)
}

func (s *subscribers) add(fn func(Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(Change))
	}
	id := s.next
	s.next++
	s.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns, id)
			s.mu.Unlock()
		})
	}
}

func (s *subscribers) notify(c Change) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, fn := range s.fns {
		fn(c)
	}
}
