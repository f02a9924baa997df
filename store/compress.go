package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	// CompressionThreshold is the minimum value size worth compressing.
	CompressionThreshold = 1024

	// MaxDecompressedSize bounds decoded values.
	MaxDecompressedSize = 16 << 20
)

// compressedMagic marks a zstd encoded value. Generated text never starts with NUL.
var compressedMagic = []byte{0x00, 'h', 'z', 0x01}

// ErrCorrupted is returned when a compressed value cannot be decoded.
var ErrCorrupted = errors.New("corrupted cache value")

// Compressed wraps a Store, zstd compressing values above CompressionThreshold.
// Values written without compression are read back unchanged.
type Compressed struct {
	store   Store
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	mu      sync.RWMutex
}

// NewCompressed wraps s with a pooled zstd encoder and decoder.
func NewCompressed(s Store) (*Compressed, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedSize))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &Compressed{
		store:   s,
		encoder: enc,
		decoder: dec,
	}, nil
}

// Get retrieves and, if needed, decompresses the value at key.
func (c *Compressed) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return c.decode(val)
}

// Exists checks if a key exists.
func (c *Compressed) Exists(ctx context.Context, key string) (bool, error) {
	return c.store.Exists(ctx, key)
}

// Set compresses value when it is large enough and the result is smaller.
func (c *Compressed) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.store.Set(ctx, key, c.encode(value), ttl)
}

// Close releases the codec and closes the wrapped store.
func (c *Compressed) Close() error {
	c.mu.Lock()
	if c.encoder != nil {
		c.encoder.Close()
		c.encoder = nil
	}
	if c.decoder != nil {
		c.decoder.Close()
		c.decoder = nil
	}
	c.mu.Unlock()
	return c.store.Close()
}

// Unwrap returns the underlying store.
func (c *Compressed) Unwrap() Store {
	return c.store
}

func (c *Compressed) encode(data []byte) []byte {
	if len(data) < CompressionThreshold {
		return data
	}

	c.mu.RLock()
	enc := c.encoder
	c.mu.RUnlock()
	if enc == nil {
		return data
	}

	out := enc.EncodeAll(data, append([]byte(nil), compressedMagic...))
	if len(out) >= len(data) {
		return data
	}
	return out
}

func (c *Compressed) decode(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, compressedMagic) {
		return data, nil
	}

	c.mu.RLock()
	dec := c.decoder
	c.mu.RUnlock()
	if dec == nil {
		return nil, fmt.Errorf("decoder closed")
	}

	out, err := dec.DecodeAll(data[len(compressedMagic):], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return out, nil
}

var _ Store = (*Compressed)(nil)
