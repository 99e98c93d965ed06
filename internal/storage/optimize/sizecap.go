package optimize

import (
	"context"
	"sort"
	"time"

	"github.com/fugue-ai/rhema-sub010/internal/storage"
)

// enforceSizeCap evicts least recently accessed entries until the stored
// total fits MaxSizeGB. Canonical entries that still have referrers are
// kept so references stay resolvable.
func (r *run) enforceSizeCap(ctx context.Context) (*SizeCapResult, error) {
	start := time.Now()
	res := &SizeCapResult{LimitBytes: int64(r.cfg.MaxSizeGB * (1 << 30))}
	defer func() {
		res.Duration = time.Since(start)
		r.metrics.ObservePass(PassSizeCap, res.Duration)
		r.metrics.PassItemsAdd(PassSizeCap, "evicted", res.Evicted)
		r.metrics.CleanupRemovedAdd("size_cap", res.Evicted)
	}()

	res.BeforeBytes = r.store.Stats(ctx).TotalBytes
	res.AfterBytes = res.BeforeBytes
	if res.BeforeBytes <= res.LimitBytes {
		return res, nil
	}

	entries := r.store.ListEntries(ctx)
	referenced := make(map[string]int)
	for _, info := range entries {
		if info.Reference != "" {
			referenced[info.Reference]++
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return lastAccess(entries[i]).Before(lastAccess(entries[j]))
	})

	for _, info := range entries {
		if res.AfterBytes <= res.LimitBytes {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if referenced[info.Key] > 0 {
			continue
		}
		if err := r.wait(ctx); err != nil {
			return res, err
		}

		removed, err := r.store.Delete(ctx, info.Key)
		if err != nil {
			r.logger.Warn("evict entry failed", "key", info.Key, "error", err)
			continue
		}
		if !removed {
			continue
		}
		if info.Reference != "" {
			referenced[info.Reference]--
		}
		res.Evicted++
		res.BytesFreed += info.StoredBytes
		res.AfterBytes -= info.StoredBytes
	}

	r.logger.Info("size cap enforced",
		"limit_bytes", res.LimitBytes,
		"before_bytes", res.BeforeBytes,
		"after_bytes", res.AfterBytes,
		"evicted", res.Evicted)
	return res, nil
}

func lastAccess(info storage.EntryInfo) time.Time {
	if info.Metadata.AccessedAt.IsZero() {
		return info.Metadata.CreatedAt
	}
	return info.Metadata.AccessedAt
}
