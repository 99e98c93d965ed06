package optimize

import (
	"context"
	"errors"
	"time"

	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
	"github.com/fugue-ai/rhema-sub010/internal/storage"
	"github.com/fugue-ai/rhema-sub010/pkg/compress"
)

// compress rewrites plain entries in compressed form when that makes
// them smaller.
func (r *run) compress(ctx context.Context) (*CompressionResult, error) {
	start := time.Now()
	res := &CompressionResult{}
	defer func() {
		res.Duration = time.Since(start)
		r.metrics.ObservePass(PassCompression, res.Duration)
		r.metrics.PassItemsAdd(PassCompression, "compressed", res.Compressed)
		r.metrics.PassItemsAdd(PassCompression, "skipped", res.Skipped)
		r.metrics.PassItemsAdd(PassCompression, "failed", res.Failed)
	}()

	codec, err := compress.Lookup(r.cfg.CompressionAlgorithm)
	if err != nil {
		return res, domain.ErrConfiguration.WithCause(err)
	}

	eligible := func(info storage.EntryInfo) bool {
		return !info.Damaged && !info.Compressed && info.Reference == "" &&
			!info.Metadata.HasTag(domain.TagEncrypted)
	}

	err = r.forEach(ctx, eligible, func(e *domain.Entry) error {
		res.Processed++
		if codec.Name() == compress.None || len(e.Data) == 0 {
			res.Skipped++
			return nil
		}

		packed, err := codec.Compress(e.Data, r.cfg.CompressionLevel)
		if err != nil {
			res.Failed++
			r.logger.Warn("compress entry failed", "key", e.Key, "error", err)
			return nil
		}
		if len(packed) >= len(e.Data) {
			res.Skipped++
			return nil
		}

		before := int64(len(e.Data))
		orig := e.Data
		e.Data = packed
		e.Compressed = true
		e.Codec = codec.Name()
		e.Metadata.AddTag(domain.TagCompressed)
		if err := r.store.StoreEntry(ctx, e, storage.IfUnchanged(orig)); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				res.Skipped++
				return nil
			}
			res.Failed++
			r.logger.Warn("store compressed entry failed", "key", e.Key, "error", err)
			return nil
		}

		res.Compressed++
		res.OriginalBytes += before
		res.CompressedBytes += int64(len(packed))
		return nil
	})

	r.logger.Info("compression pass completed",
		"algorithm", codec.Name(),
		"compressed", res.Compressed,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"bytes_saved", res.BytesSaved())
	return res, err
}

// forEach visits the entries admitted by keep in key order, loading each
// payload without refreshing its access time. Entries that vanish or fail
// to load are skipped; only context errors abort the walk.
func (r *run) forEach(ctx context.Context, keep func(storage.EntryInfo) bool, fn func(*domain.Entry) error) error {
	for _, info := range r.store.ListEntries(ctx) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !keep(info) {
			continue
		}
		if err := r.wait(ctx); err != nil {
			return err
		}

		e, err := r.store.Inspect(ctx, info.Key)
		if err != nil {
			r.logger.Warn("load entry failed", "key", info.Key, "error", err)
			continue
		}
		if e == nil {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}
