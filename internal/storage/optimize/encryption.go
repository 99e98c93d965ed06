package optimize

import (
	"context"
	"errors"
	"time"

	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
	"github.com/fugue-ai/rhema-sub010/internal/storage"
	"github.com/fugue-ai/rhema-sub010/pkg/crypto/adaptive"
)

// KeyPurpose is the key derivation label for entry encryption.
const KeyPurpose = "storage-entries"

// NewCipher fetches the entry key from provider and builds the AEAD named
// by algorithm ("aes-256-gcm", "chacha20-poly1305" or "auto").
func NewCipher(ctx context.Context, provider adaptive.KeyProvider, algorithm string) (adaptive.Cipher, error) {
	if provider == nil {
		return nil, domain.ErrConfiguration.WithDetails("no key provider configured")
	}
	typ, err := adaptive.ParseCipherType(algorithm)
	if err != nil {
		return nil, domain.ErrConfiguration.WithCause(err)
	}
	key, err := provider.Key(ctx, KeyPurpose)
	if err != nil {
		return nil, domain.ErrEncryption.WithCause(err)
	}
	c, err := adaptive.NewWithType(key, typ)
	adaptive.ZeroKey(key)
	if err != nil {
		return nil, domain.ErrEncryption.WithCause(err)
	}
	return c, nil
}

// encrypt seals every entry that is not yet encrypted. The entry key is
// bound as additional data so a sealed payload cannot be moved to another
// key. Reference entries hold only a key name and are left alone.
func (r *run) encrypt(ctx context.Context) (*EncryptionResult, error) {
	start := time.Now()
	res := &EncryptionResult{Algorithm: string(r.cfg.Cipher.Type())}
	defer func() {
		res.Duration = time.Since(start)
		r.metrics.ObservePass(PassEncryption, res.Duration)
		r.metrics.PassItemsAdd(PassEncryption, "encrypted", res.Encrypted)
		r.metrics.PassItemsAdd(PassEncryption, "skipped", res.Skipped)
		r.metrics.PassItemsAdd(PassEncryption, "failed", res.Failed)
	}()

	eligible := func(info storage.EntryInfo) bool {
		if info.Damaged || info.Metadata.HasTag(domain.TagEncrypted) {
			return false
		}
		if info.Reference != "" {
			res.Skipped++
			return false
		}
		return true
	}

	err := r.forEach(ctx, eligible, func(e *domain.Entry) error {
		res.Processed++
		sealed, err := r.cfg.Cipher.Encrypt(e.Data, []byte(e.Key))
		if err != nil {
			res.Failed++
			r.logger.Warn("encrypt entry failed", "key", e.Key, "error", err)
			return nil
		}

		orig := e.Data
		e.Data = sealed
		e.Metadata.AddTag(domain.TagEncrypted)
		if err := r.store.StoreEntry(ctx, e, storage.IfUnchanged(orig)); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				res.Skipped++
				return nil
			}
			res.Failed++
			r.logger.Warn("store encrypted entry failed", "key", e.Key, "error", err)
			return nil
		}
		res.Encrypted++
		return nil
	})

	r.logger.Info("encryption pass completed",
		"algorithm", res.Algorithm,
		"encrypted", res.Encrypted,
		"skipped", res.Skipped,
		"failed", res.Failed)
	return res, err
}
