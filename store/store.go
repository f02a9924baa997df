// Package store provides the key-value page cache used by the HalNet server.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"
)

// DefaultOpTimeout bounds each individual cache operation.
const DefaultOpTimeout = 5 * time.Second

var (
	// ErrNotFound is returned when a key does not exist in the store.
	ErrNotFound = errors.New("not found")

	// ErrTransport is matched by every error caused by the cache service being
	// unreachable or failing, as opposed to a key simply being absent.
	ErrTransport = errors.New("cache transport failure")
)

// TransportError describes a failed operation against the cache service.
type TransportError struct {
	Op  string
	Key string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("cache %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap allows errors.Is to match both ErrTransport and the cause.
func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// Store defines the cache operations the server depends on.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves the value at key.
	// Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists checks if a key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Set stores value at key, overwriting any existing value.
	// A zero ttl means the entry never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	io.Closer
}

// Option configures a store created by Open.
type Option func(*options)

type options struct {
	opTimeout  time.Duration
	logger     *slog.Logger
	compress   bool
	instrument bool
}

// WithOpTimeout bounds each cache operation.
func WithOpTimeout(d time.Duration) Option {
	return func(o *options) {
		o.opTimeout = d
	}
}

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCompression wraps the store so large values are zstd compressed.
func WithCompression(enabled bool) Option {
	return func(o *options) {
		o.compress = enabled
	}
}

// WithInstrumentation wraps the store with metrics recording.
func WithInstrumentation(enabled bool) Option {
	return func(o *options) {
		o.instrument = enabled
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		opTimeout: DefaultOpTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open connects to the store named by rawURL.
// Supported schemes are redis, rediss and memory.
func Open(ctx context.Context, rawURL string, opts ...Option) (Store, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing cache URL: %w", err)
	}

	o := newOptions(opts)

	var (
		s    Store
		name string
	)
	switch u.Scheme {
	case "redis", "rediss":
		r, err := NewRedis(ctx, rawURL, opts...)
		if err != nil {
			return nil, err
		}
		s, name = r, "redis"
	case "memory":
		s, name = NewMemory(), "memory"
	default:
		return nil, fmt.Errorf("unsupported cache scheme %q", u.Scheme)
	}

	if o.compress {
		c, err := NewCompressed(s)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s = c
	}
	if o.instrument {
		s = NewInstrumented(s, name)
	}

	o.logger.Info("cache store opened", "scheme", u.Scheme, "host", u.Host, "compress", o.compress)
	return s, nil
}
