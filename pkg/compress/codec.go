package compress

import (
	"errors"
	"fmt"
	"strings"
)

// Algorithm names.
const (
	Zstd = "zstd"
	LZ4  = "lz4"
	Gzip = "gzip"
	None = "none"
)

// DefaultLevel selects each codec's own default level.
const DefaultLevel = 0

// ErrUnknownCodec is returned by Lookup for unsupported algorithms.
var ErrUnknownCodec = errors.New("compress: unknown codec")

// Codec compresses and decompresses payloads.
type Codec interface {
	// Name returns the algorithm name as stored alongside entries.
	Name() string

	// Compress compresses data at the given level.
	// Level 0 selects the codec default; out-of-range levels are clamped.
	Compress(data []byte, level int) ([]byte, error)

	// Decompress reverses Compress.
	Decompress(data []byte) ([]byte, error)
}

var codecs = map[string]Codec{
	Zstd: newZstdCodec(),
	LZ4:  lz4Codec{},
	Gzip: gzipCodec{},
	None: noneCodec{},
}

// Lookup returns the codec registered under name (case-insensitive).
// An empty name resolves to None.
func Lookup(name string) (Codec, error) {
	if name == "" {
		return codecs[None], nil
	}
	c, ok := codecs[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, name)
	}
	return c, nil
}

// Names returns the supported algorithm names.
func Names() []string {
	return []string{Zstd, LZ4, Gzip, None}
}

// noneCodec is the identity codec.
type noneCodec struct{}

func (noneCodec) Name() string { return None }

func (noneCodec) Compress(data []byte, _ int) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (noneCodec) Decompress(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
