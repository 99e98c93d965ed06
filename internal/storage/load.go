package storage

import (
	"context"
	"time"

	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
	"github.com/fugue-ai/rhema-sub010/pkg/compress"
)

// Load returns the original payload for key: it retrieves the entry,
// opens it when encrypted, follows a deduplication reference one hop and
// decompresses. Unknown keys yield ErrEntryNotFound.
func (m *Manager) Load(ctx context.Context, key string) (data []byte, err error) {
	start := time.Now()
	defer func() { m.metrics.ObserveOp("load", start, err) }()

	e, err := m.Retrieve(ctx, key)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, domain.ErrEntryNotFound.WithDetails("key " + key)
	}
	return m.materialize(ctx, e)
}

func (m *Manager) materialize(ctx context.Context, e *domain.Entry) ([]byte, error) {
	payload := e.Data

	if e.IsEncrypted() {
		if m.cfg.Cipher == nil {
			return nil, domain.ErrEncryption.WithDetails("entry " + e.Key + " is encrypted and no cipher is configured")
		}
		plain, err := m.cfg.Cipher.Decrypt(payload, []byte(e.Key))
		if err != nil {
			return nil, domain.ErrEncryption.WithDetails("key " + e.Key).WithCause(err)
		}
		payload = plain
	}

	if e.IsReference() {
		target, err := m.Retrieve(ctx, e.Reference)
		if err != nil {
			return nil, err
		}
		if target == nil {
			return nil, domain.ErrBrokenReference.WithDetails(e.Key + " -> " + e.Reference)
		}
		if target.IsReference() {
			return nil, domain.ErrBrokenReference.WithDetails(e.Key + " -> " + e.Reference + " is itself a reference")
		}
		return m.materialize(ctx, target)
	}

	if e.Compressed {
		codec, err := compress.Lookup(e.Codec)
		if err != nil {
			return nil, domain.ErrCompression.WithCause(err)
		}
		out, err := codec.Decompress(payload)
		if err != nil {
			return nil, domain.ErrCompression.WithDetails("key " + e.Key).WithCause(err)
		}
		return out, nil
	}

	return append([]byte(nil), payload...), nil
}
