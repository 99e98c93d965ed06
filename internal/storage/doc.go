// Package storage provides the knowledge storage engine.
//
// The engine is a durable, byte-oriented key/value store embedded in the
// calling process. Every key maps to one Entry persisted as a binary
// envelope; a sharded resident index holds metadata for all entries and
// payloads for recently touched ones.
//
// Architecture:
//
//   - Manager: CRUD, capacity enforcement, cleanup and backup triggers
//   - Backend: one-file-per-key directory (default) or a Badger database
//   - Envelope: framed protobuf wire encoding with a CRC guard
//   - memory.Store: resident index with tag lookup and byte accounting
//
// The engine supports:
//
//   - Durability: write-then-rename so a crash never leaves a torn entry
//   - Recovery: the index is rebuilt from the backend on Open
//   - Integrity: SHA-256 checksums verified on every load from disk
//   - Compression: zstd, lz4 or gzip applied at write time
//   - Encryption: entries sealed by the optimize package are opened by Load
package storage
