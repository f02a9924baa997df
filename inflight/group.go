// Package inflight provides singleflight-based deduplication for concurrent
// page generations. When multiple requests arrive for the same uncached path,
// only one provider call and one cache write are performed.
package inflight

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/wolfeidau/halnet"
)

// Result holds generated content shared by every waiter.
type Result struct {
	Content  []byte
	Hash     halnet.Hash
	Provider string
	Model    string

	// Cached is true when the content was already stored by an earlier
	// generation and no provider call was made.
	Cached bool
}

// Func generates, stores and returns content for a key.
// The context passed to Func is detached from any single request so that one
// caller going away does not cancel the generation for other waiters.
type Func func(ctx context.Context) (*Result, error)

// Group deduplicates concurrent generations for the same cache key using
// singleflight. It uses DoChan so each caller can respect its own context
// deadline without cancelling the in-flight generation for others.
type Group struct {
	group  singleflight.Group
	logger *slog.Logger
}

// Option configures a Group.
type Option func(*Group)

// WithLogger sets the logger for the group.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Group) {
		g.logger = logger
	}
}

// New creates a new Group.
func New(opts ...Option) *Group {
	g := &Group{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "inflight")
	return g
}

// Do deduplicates concurrent generations for the same key.
// Returns the result, whether it was shared with another caller, and any error.
//
// If the caller's context expires before the generation completes, Do returns
// the context error but the in-flight generation continues for other waiters.
func (g *Group) Do(ctx context.Context, key string, fn Func) (*Result, bool, error) {
	ch := g.group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Shared {
			g.logger.Debug("shared in-flight generation", "key", key)
		}
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.(*Result), res.Shared, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}
