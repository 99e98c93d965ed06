package storage

import (
	"context"
	"errors"

	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
	"github.com/fugue-ai/rhema-sub010/internal/storage/memory"
)

// Verification is the integrity state of one entry.
type Verification struct {
	Key string `json:"key" yaml:"key"`

	// Resident reports whether a resident copy was checked.
	Resident      bool `json:"resident" yaml:"resident"`
	ResidentValid bool `json:"resident_valid" yaml:"resident_valid"`

	// Persisted reports whether the backend held a decodable copy.
	Persisted      bool `json:"persisted" yaml:"persisted"`
	PersistedValid bool `json:"persisted_valid" yaml:"persisted_valid"`
}

// OK reports whether every copy that exists is valid.
func (v Verification) OK() bool {
	if v.Resident && !v.ResidentValid {
		return false
	}
	if !v.Persisted || !v.PersistedValid {
		return false
	}
	return true
}

// VerifyEntry checks the resident and persisted copies of key against the
// stored checksum. It does not touch AccessedAt.
func (m *Manager) VerifyEntry(ctx context.Context, key string) (Verification, error) {
	v := Verification{Key: key}
	if err := m.checkOpen(); err != nil {
		return v, err
	}

	unlock := m.locks.Lock(key)
	defer unlock()

	rec, ok := m.index.Get(key)
	if !ok {
		return v, domain.ErrEntryNotFound.WithDetails("key " + key)
	}
	if rec.Resident && rec.Err == nil {
		v.Resident = true
		v.ResidentValid = verifyEntry(rec.Entry) == nil
	}

	e, err := m.readPersisted(ctx, key)
	switch {
	case err == nil:
		v.Persisted = true
		v.PersistedValid = verifyEntry(e) == nil
	case errors.Is(err, ErrNotFound), errors.Is(err, domain.ErrDataCorruption):
	default:
		return v, err
	}
	return v, nil
}

// RepairEntry restores a consistent copy of key: the persisted copy is
// rewritten from a valid resident copy, or a valid persisted copy replaces
// a bad resident one. It fails with ErrDataCorruption when no valid copy
// exists.
func (m *Manager) RepairEntry(ctx context.Context, key string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	unlock := m.locks.Lock(key)
	defer unlock()

	rec, ok := m.index.Get(key)
	if !ok {
		return domain.ErrEntryNotFound.WithDetails("key " + key)
	}

	if rec.Resident && rec.Err == nil && verifyEntry(rec.Entry) == nil {
		if err := m.persist(ctx, rec.Entry); err != nil {
			return err
		}
		m.logger.Info("entry repaired from resident copy", "key", key)
		return nil
	}

	e, err := m.readPersisted(ctx, key)
	if err == nil && verifyEntry(e) == nil {
		m.index.Put(&memory.Record{Entry: e, Resident: true, Size: e.StoredSize()}, 0)
		m.updateUsage()
		m.logger.Info("entry repaired from persisted copy", "key", key)
		return nil
	}

	return domain.ErrDataCorruption.WithDetails("no valid copy of key " + key)
}
