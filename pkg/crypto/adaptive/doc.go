// Package adaptive provides authenticated encryption for data at rest.
//
// It implements a cipher abstraction over two AEAD algorithms:
//
//   - AES-GCM: preferred when hardware AES support is available
//   - ChaCha20-Poly1305: fallback for systems without AES acceleration
//
// Key material is supplied by a KeyProvider. The engine never stores keys;
// StaticKeyProvider covers the common case of a key (or a passphrase and
// salt) taken from configuration, and other providers can wrap an external
// secrets manager.
//
// Usage:
//
//	c, err := adaptive.NewWithType(key, adaptive.CipherAESGCM)
//	sealed, err := c.Encrypt(plaintext, []byte(entryKey))
//	plaintext, err := c.Decrypt(sealed, []byte(entryKey))
//
// Ciphertext layout is nonce || sealed(plaintext) || tag.
package adaptive
