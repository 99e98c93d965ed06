package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
	"github.com/fugue-ai/rhema-sub010/internal/storage/memory"
)

// CleanupResult reports what AutoCleanup removed.
type CleanupResult struct {
	ExpiredRemoved int           `json:"expired_removed" yaml:"expired_removed"`
	UnusedRemoved  int           `json:"unused_removed" yaml:"unused_removed"`
	BytesFreed     int64         `json:"bytes_freed" yaml:"bytes_freed"`
	Duration       time.Duration `json:"duration" yaml:"duration"`
}

// Removed returns the total number of removed entries.
func (r CleanupResult) Removed() int {
	return r.ExpiredRemoved + r.UnusedRemoved
}

// CleanupExpired deletes every entry whose TTL has elapsed and returns the
// number removed. A second call with no intervening writes removes nothing.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	res, err := m.sweep(ctx, false)
	return res.ExpiredRemoved, err
}

// AutoCleanup deletes TTL-expired entries and entries not accessed within
// UnusedAfter, unless DisableUnusedCleanup is set.
func (m *Manager) AutoCleanup(ctx context.Context) (CleanupResult, error) {
	return m.sweep(ctx, true)
}

func (m *Manager) sweep(ctx context.Context, unused bool) (res CleanupResult, err error) {
	start := time.Now()
	op := "cleanup_expired"
	if unused {
		op = "auto_cleanup"
	}
	defer func() {
		res.Duration = time.Since(start)
		m.metrics.ObserveOp(op, start, err)
		m.metrics.CleanupRemovedAdd("expired", res.ExpiredRemoved)
		m.metrics.CleanupRemovedAdd("unused", res.UnusedRemoved)
	}()

	if err := m.checkOpen(); err != nil {
		return res, err
	}

	now := time.Now()
	expired := func(rec *memory.Record) bool {
		return rec.Err == nil && rec.Entry.Metadata.IsExpired(now)
	}
	idle := func(rec *memory.Record) bool {
		return rec.Err == nil && !m.cfg.DisableUnusedCleanup &&
			rec.Entry.Metadata.IsUnused(now, m.cfg.UnusedAfter)
	}

	removable := func(rec *memory.Record) bool {
		return expired(rec) || (unused && idle(rec))
	}
	referrers := m.liveReferrers(removable)

	for _, key := range m.index.Keys() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rec, ok := m.index.Get(key)
		if !ok {
			continue
		}

		var pred func(*memory.Record) bool
		switch {
		case expired(rec):
			pred = expired
		case unused && idle(rec):
			pred = idle
		default:
			continue
		}

		if refs := referrers[key]; len(refs) > 0 {
			if err := m.promote(ctx, key, refs); err != nil {
				m.logger.Warn("keeping canonical entry with live references",
					"key", key, "references", len(refs), "error", err)
				continue
			}
		}

		// The predicate is re-checked under the key lock so a concurrent
		// refresh keeps the entry.
		removed, err := m.remove(ctx, key, pred)
		if err != nil {
			return res, err
		}
		if !removed {
			continue
		}
		res.BytesFreed += rec.Size
		if expired(rec) {
			res.ExpiredRemoved++
		} else {
			res.UnusedRemoved++
		}
		m.subs.notify(Change{Op: ChangeDelete, Key: key})
	}

	if res.Removed() > 0 {
		m.logger.Debug("cleanup removed entries",
			"expired", res.ExpiredRemoved,
			"unused", res.UnusedRemoved,
			"bytes_freed", res.BytesFreed)
	}
	return res, nil
}

// liveReferrers maps each canonical key to the sorted references that
// survive this sweep.
func (m *Manager) liveReferrers(removable func(*memory.Record) bool) map[string][]string {
	out := make(map[string][]string)
	m.index.Range(func(key string, rec *memory.Record) bool {
		if rec.Err == nil && rec.Entry.Reference != "" && !removable(rec) {
			out[rec.Entry.Reference] = append(out[rec.Entry.Reference], key)
		}
		return true
	})
	for _, refs := range out {
		sort.Strings(refs)
	}
	return out
}

// promote moves the payload of canonical key into its first surviving
// reference and repoints the others there, so key can be removed without
// breaking them. Each write is conditional on the reference being
// untouched since it was read.
func (m *Manager) promote(ctx context.Context, key string, refs []string) error {
	canon, err := m.Inspect(ctx, key)
	if err != nil || canon == nil {
		return err
	}

	// The cipher binds a payload to its key, so moving it means resealing.
	payload := canon.Data
	encrypted := canon.IsEncrypted()
	if encrypted {
		if m.cfg.Cipher == nil {
			return domain.ErrEncryption.WithDetails("entry " + key + " is encrypted and no cipher is configured")
		}
		if payload, err = m.cfg.Cipher.Decrypt(payload, []byte(key)); err != nil {
			return domain.ErrEncryption.WithDetails("key " + key).WithCause(err)
		}
	}

	heir := refs[0]
	h, err := m.Inspect(ctx, heir)
	if err != nil {
		return err
	}
	if h == nil || h.Reference != key {
		return ErrConflict
	}
	if encrypted {
		if payload, err = m.cfg.Cipher.Encrypt(payload, []byte(heir)); err != nil {
			return domain.ErrEncryption.WithDetails("key " + heir).WithCause(err)
		}
	}

	meta := h.Metadata.Clone()
	meta.StripTransformTags()
	meta.RemoveTags(domain.TagDedupCanonical)
	meta.SizeBytes = canon.Metadata.SizeBytes
	if len(refs) > 1 {
		meta.AddTag(domain.TagDedupCanonical)
	}
	if canon.Compressed {
		meta.AddTag(domain.TagCompressed)
	}
	if encrypted {
		meta.AddTag(domain.TagEncrypted)
	}
	promoted := &domain.Entry{
		Key:        heir,
		Data:       payload,
		Metadata:   meta,
		Compressed: canon.Compressed,
		Codec:      canon.Codec,
	}
	if err := m.StoreEntry(ctx, promoted, IfUnchanged(h.Data)); err != nil {
		return err
	}

	for _, ref := range refs[1:] {
		r, err := m.Inspect(ctx, ref)
		if err != nil {
			return err
		}
		if r == nil || r.Reference != key {
			continue
		}
		err = m.Store(ctx, ref, nil, r.Metadata, AsReference(heir), IfUnchanged(r.Data))
		if err != nil && !errors.Is(err, ErrConflict) {
			return err
		}
	}
	m.logger.Debug("canonical entry promoted", "key", key, "heir", heir, "references", len(refs)-1)
	return nil
}
