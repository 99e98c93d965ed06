// Package compress provides the payload codecs used by the storage engine.
//
// Supported algorithms:
//
//   - zstd: dictionary-based, best ratio (github.com/klauspost/compress/zstd)
//   - lz4: fast block compression (github.com/pierrec/lz4/v4)
//   - gzip: deflate-based, widest compatibility (github.com/klauspost/compress/gzip)
//   - none: identity
//
// Usage:
//
//	codec, err := compress.Lookup("zstd")
//	packed, err := codec.Compress(data, compress.DefaultLevel)
//	data, err = codec.Decompress(packed)
//
// All codecs are safe for concurrent use.
package compress
