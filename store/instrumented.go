package store

import (
	"context"
	"errors"
	"time"

	"github.com/wolfeidau/halnet/telemetry"
)

// Instrumented wraps a Store with metrics recording.
type Instrumented struct {
	store Store
	name  string
}

// NewInstrumented creates a new instrumented store wrapper.
func NewInstrumented(s Store, name string) *Instrumented {
	return &Instrumented{store: s, name: name}
}

func (is *Instrumented) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	val, err := is.store.Get(ctx, key)
	telemetry.RecordStoreOp(ctx, is.name, "get", outcomeFromError(err), time.Since(start), int64(len(val)))
	return val, err
}

func (is *Instrumented) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	exists, err := is.store.Exists(ctx, key)
	outcome := outcomeFromError(err)
	if err == nil && !exists {
		outcome = "not_found"
	}
	telemetry.RecordStoreOp(ctx, is.name, "exists", outcome, time.Since(start), 0)
	return exists, err
}

func (is *Instrumented) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := is.store.Set(ctx, key, value, ttl)
	telemetry.RecordStoreOp(ctx, is.name, "set", outcomeFromError(err), time.Since(start), int64(len(value)))
	return err
}

func (is *Instrumented) Close() error {
	return is.store.Close()
}

// Unwrap returns the underlying store.
func (is *Instrumented) Unwrap() Store {
	return is.store
}

func outcomeFromError(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

var _ Store = (*Instrumented)(nil)
