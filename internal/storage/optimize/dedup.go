package optimize

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
	"github.com/fugue-ai/rhema-sub010/internal/storage"
)

// contentHash identifies a stored payload together with its encoding, so
// only byte-identical payloads under the same codec are merged.
type contentHash struct {
	h1, h2 uint64
	codec  string
}

func hashEntry(e *domain.Entry) contentHash {
	h1, h2 := murmur3.Sum128(e.Data)
	return contentHash{h1: h1, h2: h2, codec: e.Codec}
}

// outlives reports whether a expires no earlier than b.
func outlives(a, b domain.Metadata) bool {
	if a.TTL <= 0 {
		return true
	}
	if b.TTL <= 0 {
		return false
	}
	return !a.CreatedAt.Add(a.TTL).Before(b.CreatedAt.Add(b.TTL))
}

// deduplicate replaces entries whose payload equals an earlier entry (in
// key order) with a reference to it. The first entry of each group becomes
// the canonical copy and is tagged accordingly, unless a later duplicate
// outlives it before anything refers to it.
func (r *run) deduplicate(ctx context.Context) (*DedupResult, error) {
	start := time.Now()
	res := &DedupResult{}
	defer func() {
		res.Duration = time.Since(start)
		r.metrics.ObservePass(PassDedup, res.Duration)
		r.metrics.PassItemsAdd(PassDedup, "replaced", res.DuplicatesRemoved)
		r.metrics.PassItemsAdd(PassDedup, "failed", res.Failed)
		r.metrics.DedupSaved(res.BytesSaved)
	}()

	// Encrypted payloads carry random nonces and never compare equal.
	eligible := func(info storage.EntryInfo) bool {
		return !info.Damaged && info.Reference == "" && !info.Metadata.HasTag(domain.TagEncrypted)
	}

	// Candidates per hash; collisions are resolved by comparing bytes.
	seen := make(map[contentHash][]*domain.Entry)
	tagged := make(map[string]bool)

	err := r.forEach(ctx, eligible, func(e *domain.Entry) error {
		res.Scanned++
		if len(e.Data) == 0 {
			return nil
		}

		h := hashEntry(e)
		var canon *domain.Entry
		idx := -1
		for i, c := range seen[h] {
			if c.Compressed == e.Compressed && bytes.Equal(c.Data, e.Data) {
				canon, idx = c, i
				break
			}
		}
		if canon == nil {
			seen[h] = append(seen[h], e)
			return nil
		}
		fresh := !tagged[canon.Key] && !canon.Metadata.HasTag(domain.TagDedupCanonical)
		if fresh && !outlives(canon.Metadata, e.Metadata) {
			seen[h][idx] = e
			canon, e = e, canon
		}
		// A reference costs the canonical key's length.
		if len(e.Data) <= len(canon.Key) {
			return nil
		}

		if !tagged[canon.Key] && !canon.Metadata.HasTag(domain.TagDedupCanonical) {
			canon.Metadata.AddTag(domain.TagDedupCanonical)
			if err := r.store.StoreEntry(ctx, canon, storage.IfUnchanged(canon.Data)); err != nil {
				dropCandidate(seen, h, canon)
				if errors.Is(err, storage.ErrConflict) {
					return nil
				}
				res.Failed++
				r.logger.Warn("tag canonical entry failed", "key", canon.Key, "error", err)
				return nil
			}
			res.Canonicals++
		}
		tagged[canon.Key] = true

		meta := e.Metadata.Clone()
		meta.RemoveTags(domain.TagDedupCanonical)
		err := r.store.Store(ctx, e.Key, nil, meta, storage.AsReference(canon.Key), storage.IfUnchanged(e.Data))
		if errors.Is(err, storage.ErrConflict) {
			r.logger.Debug("duplicate changed during pass", "key", e.Key)
			return nil
		}
		if err != nil {
			res.Failed++
			r.logger.Warn("replace duplicate failed", "key", e.Key, "canonical", canon.Key, "error", err)
			return nil
		}

		res.DuplicatesRemoved++
		res.BytesSaved += int64(len(e.Data) - len(canon.Key))
		r.logger.Debug("duplicate replaced by reference", "key", e.Key, "canonical", canon.Key)
		return nil
	})

	r.logger.Info("deduplication pass completed",
		"scanned", res.Scanned,
		"duplicates", res.DuplicatesRemoved,
		"bytes_saved", res.BytesSaved)
	return res, err
}

// dropCandidate forgets c so later duplicates do not refer to it.
func dropCandidate(seen map[contentHash][]*domain.Entry, h contentHash, c *domain.Entry) {
	seen[h] = slices.DeleteFunc(seen[h], func(x *domain.Entry) bool { return x == c })
}
