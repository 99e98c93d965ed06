package adaptive

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// Key management errors.
var (
	ErrKeyTooShort       = errors.New("adaptive: encryption key too short (minimum 16 bytes)")
	ErrPassphraseTooWeak = errors.New("adaptive: passphrase too weak (minimum 8 characters)")
	ErrNoKeyMaterial     = errors.New("adaptive: no key material configured")
)

const (
	// MinKeyLength is the minimum raw key length.
	MinKeyLength = 16

	// MinPassphraseLength is the minimum passphrase length.
	MinPassphraseLength = 8

	// SaltLength is the salt length used for passphrase derivation.
	SaltLength = 16

	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
)

// KeyProvider supplies the data-encryption key for a purpose
// (for example "storage-entries").
//
// Implementations typically front an external secrets manager.
type KeyProvider interface {
	Key(ctx context.Context, purpose string) ([]byte, error)
}

// KeyConfig describes static key material.
type KeyConfig struct {
	// KeyHex is a hex encoded raw key (32 bytes recommended).
	KeyHex string

	// Passphrase derives the key with Argon2id when KeyHex is empty.
	Passphrase []byte

	// SaltHex is the hex encoded salt for Passphrase. Required so the
	// same key can be derived again after a restart.
	SaltHex string
}

// StaticKeyProvider derives per-purpose subkeys from one master key.
type StaticKeyProvider struct {
	master []byte
}

// NewStaticKeyProvider builds a provider from configuration.
func NewStaticKeyProvider(cfg KeyConfig) (*StaticKeyProvider, error) {
	switch {
	case cfg.KeyHex != "":
		key, err := hex.DecodeString(cfg.KeyHex)
		if err != nil {
			return nil, fmt.Errorf("adaptive: decode key: %w", err)
		}
		if len(key) < MinKeyLength {
			return nil, ErrKeyTooShort
		}
		return &StaticKeyProvider{master: key}, nil

	case len(cfg.Passphrase) > 0:
		if cfg.SaltHex == "" {
			return nil, errors.New("adaptive: passphrase requires a salt")
		}
		salt, err := hex.DecodeString(cfg.SaltHex)
		if err != nil {
			return nil, fmt.Errorf("adaptive: decode salt: %w", err)
		}
		key, err := DeriveKeyFromPassphrase(cfg.Passphrase, salt)
		if err != nil {
			return nil, err
		}
		return &StaticKeyProvider{master: key}, nil

	default:
		return nil, ErrNoKeyMaterial
	}
}

// Key returns a 32-byte subkey bound to purpose.
func (p *StaticKeyProvider) Key(_ context.Context, purpose string) ([]byte, error) {
	return DeriveSubkey(p.master, purpose, 32)
}

// DeriveKeyFromPassphrase derives a 32-byte key with Argon2id.
func DeriveKeyFromPassphrase(passphrase, salt []byte) ([]byte, error) {
	if len(passphrase) < MinPassphraseLength {
		return nil, ErrPassphraseTooWeak
	}
	if len(salt) < SaltLength {
		return nil, fmt.Errorf("adaptive: salt must be at least %d bytes", SaltLength)
	}
	return argon2.IDKey(passphrase, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen), nil
}

// NewSalt returns a random salt suitable for DeriveKeyFromPassphrase.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("adaptive: generate salt: %w", err)
	}
	return salt, nil
}

// DeriveSubkey derives a subkey from a master key using HKDF-SHA256.
func DeriveSubkey(masterKey []byte, info string, length int) ([]byte, error) {
	if len(masterKey) < MinKeyLength {
		return nil, ErrKeyTooShort
	}

	reader := hkdf.New(sha256.New, masterKey, nil, []byte(info))
	key := make([]byte, length)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("adaptive: derive subkey: %w", err)
	}
	return key, nil
}

// ZeroKey overwrites a key in memory.
func ZeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}
