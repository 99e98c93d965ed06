package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Backend.Get for an absent key.
var ErrNotFound = errors.New("storage: key not found")

// Backend persists encoded envelopes by key.
//
// Implementations must be safe for concurrent use and must never expose a
// partially written value to Get, even across a crash.
type Backend interface {
	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Keys lists every stored key in unspecified order.
	Keys(ctx context.Context) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// Exporter is implemented by backends whose state is not a plain directory
// tree; backups stream the export instead of copying files.
type Exporter interface {
	Export(ctx context.Context, w io.Writer) error
	ExportName() string
}
