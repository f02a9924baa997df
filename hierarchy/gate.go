// Package hierarchy decides whether a path may be generated based on
// whether its parent has already been materialized.
package hierarchy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wolfeidau/halnet"
)

// Exister reports whether a cache key is present.
type Exister interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// Ledger reports whether a path was ever materialized, regardless of cache expiry.
type Ledger interface {
	Visited(ctx context.Context, path string) (bool, error)
}

// Decision is the result of a gate check.
type Decision struct {
	// Allowed is true when the path may be generated.
	Allowed bool

	// Parent is the path whose presence was required. It is the root for
	// paths of depth one or less.
	Parent halnet.Path
}

// Gate enforces that pages are generated parent first.
type Gate struct {
	store  Exister
	prefix string
	ledger Ledger
	logger *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithPrefix sets the cache key prefix. Defaults to halnet.DefaultKeyPrefix.
func WithPrefix(prefix string) Option {
	return func(g *Gate) {
		g.prefix = prefix
	}
}

// WithLedger also allows paths whose parent is recorded in l.
func WithLedger(l Ledger) Option {
	return func(g *Gate) {
		g.ledger = l
	}
}

// WithLogger sets the logger for the gate.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// New creates a gate that checks parent presence in s.
func New(s Exister, opts ...Option) *Gate {
	g := &Gate{
		store:  s,
		prefix: halnet.DefaultKeyPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "hierarchy")
	return g
}

// MayGenerate reports whether p may be generated. The root and top level
// paths are always allowed without consulting the store.
func (g *Gate) MayGenerate(ctx context.Context, p halnet.Path) (Decision, error) {
	parent, ok := p.Parent()
	if !ok {
		return Decision{Allowed: true, Parent: p}, nil
	}
	if p.Depth() <= 1 {
		return Decision{Allowed: true, Parent: parent}, nil
	}

	exists, err := g.store.Exists(ctx, halnet.CacheKey(g.prefix, parent))
	if err != nil {
		return Decision{Parent: parent}, fmt.Errorf("checking parent %s: %w", parent, err)
	}
	if exists {
		return Decision{Allowed: true, Parent: parent}, nil
	}

	if g.ledger != nil {
		visited, err := g.ledger.Visited(ctx, parent.Normalized)
		if err != nil {
			return Decision{Parent: parent}, fmt.Errorf("checking ledger for %s: %w", parent, err)
		}
		if visited {
			g.logger.Debug("parent expired from cache but recorded in ledger", "path", p.Normalized, "parent", parent.Normalized)
			return Decision{Allowed: true, Parent: parent}, nil
		}
	}

	return Decision{Allowed: false, Parent: parent}, nil
}
