package storage

import (
	"github.com/fugue-ai/rhema-sub010/pkg/compress"
)

// StoreOption adjusts how Store treats the supplied payload.
type StoreOption func(*storeOptions)

type storeOptions struct {
	codec     string
	reference string

	// ifUnchanged holds the payload the stored entry must still carry.
	ifUnchanged []byte
	conditional bool
}

// AlreadyCompressed marks data as the output of codec; Store persists it
// without compressing again.
func AlreadyCompressed(codec string) StoreOption {
	return func(o *storeOptions) {
		if codec == "" {
			codec = compress.None
		}
		o.codec = codec
	}
}

// AsReference stores a deduplication reference to the canonical key target.
// The supplied data is ignored; the payload becomes the target's name.
func AsReference(target string) StoreOption {
	return func(o *storeOptions) {
		o.reference = target
	}
}

// IfUnchanged makes the write conditional: it succeeds only while the
// stored payload still equals data, compared under the key lock. A changed
// or missing entry fails with ErrConflict. Store and StoreEntry accept it.
func IfUnchanged(data []byte) StoreOption {
	return func(o *storeOptions) {
		o.ifUnchanged = append([]byte{}, data...)
		o.conditional = true
	}
}
