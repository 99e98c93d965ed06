package compress

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstdDefaultLevel matches the reference zstd CLI default.
const zstdDefaultLevel = 3

type zstdCodec struct {
	mu       sync.Mutex
	encoders map[zstd.EncoderLevel]*zstd.Encoder

	decOnce sync.Once
	decoder *zstd.Decoder
	decErr  error
}

func newZstdCodec() *zstdCodec {
	return &zstdCodec{encoders: make(map[zstd.EncoderLevel]*zstd.Encoder)}
}

func (c *zstdCodec) Name() string { return Zstd }

// encoder returns a cached encoder per speed level. EncodeAll is safe for
// concurrent use on a shared encoder.
func (c *zstdCodec) encoder(level int) (*zstd.Encoder, error) {
	if level == DefaultLevel {
		level = zstdDefaultLevel
	}
	lvl := zstd.EncoderLevelFromZstd(clamp(level, 1, 22))

	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encoders[lvl]; ok {
		return enc, nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(lvl), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("compress: zstd encoder: %w", err)
	}
	c.encoders[lvl] = enc
	return enc, nil
}

func (c *zstdCodec) Compress(data []byte, level int) ([]byte, error) {
	enc, err := c.encoder(level)
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (c *zstdCodec) Decompress(data []byte) ([]byte, error) {
	c.decOnce.Do(func() {
		c.decoder, c.decErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	if c.decErr != nil {
		return nil, fmt.Errorf("compress: zstd decoder: %w", c.decErr)
	}
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("compress: zstd decode: %w", err)
	}
	return out, nil
}
