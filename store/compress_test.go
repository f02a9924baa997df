package store

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompressedRoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	c, err := NewCompressed(mem)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	tests := []struct {
		name  string
		value []byte
	}{
		{"empty", []byte{}},
		{"small", []byte("<html><body>hi</body></html>")},
		{"large", []byte(strings.Repeat("<p>HalNet is a generated web.</p>\n", 200))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, c.Set(ctx, tt.name, tt.value, 0))
			got, err := c.Get(ctx, tt.name)
			require.NoError(t, err)
			require.Equal(t, tt.value, got)
		})
	}
}

func TestCompressedStoresSmallerValue(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	c, err := NewCompressed(mem)
	require.NoError(t, err)

	value := []byte(strings.Repeat("body { color: #6b46c1; }\n", 100))
	require.NoError(t, c.Set(ctx, "k", value, 0))

	raw, err := mem.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(raw, compressedMagic))
	require.Less(t, len(raw), len(value))
}

func TestCompressedSmallValuePassesThrough(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	c, err := NewCompressed(mem)
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "k", []byte("tiny"), 0))
	raw, err := mem.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "tiny", string(raw))
}

func TestCompressedReadsPlainValues(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	plain := []byte(strings.Repeat("written before compression was enabled ", 100))
	require.NoError(t, mem.Set(ctx, "k", plain, 0))

	c, err := NewCompressed(mem)
	require.NoError(t, err)
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, plain, got)
}

func TestCompressedCorrupted(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	bad := append(append([]byte(nil), compressedMagic...), []byte("not zstd")...)
	require.NoError(t, mem.Set(ctx, "k", bad, 0))

	c, err := NewCompressed(mem)
	require.NoError(t, err)
	_, err = c.Get(ctx, "k")
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestCompressedMissing(t *testing.T) {
	c, err := NewCompressed(NewMemory())
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}
