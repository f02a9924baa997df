// Package site resolves requests for generated pages: serving cached
// content, enforcing the parent-first hierarchy and generating new pages.
package site

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/wolfeidau/halnet"
	"github.com/wolfeidau/halnet/generate"
	"github.com/wolfeidau/halnet/hierarchy"
	"github.com/wolfeidau/halnet/inflight"
	"github.com/wolfeidau/halnet/prompt"
	"github.com/wolfeidau/halnet/store"
	"github.com/wolfeidau/halnet/telemetry"
)

// Ledger durably records materialized paths.
type Ledger interface {
	hierarchy.Ledger
	MarkVisited(ctx context.Context, path string) error
}

// Handler serves every generated path.
type Handler struct {
	store     store.Store
	generator generate.Generator
	prompts   *prompt.Builder
	gate      *hierarchy.Gate
	inflight  *inflight.Group
	ledger    Ledger
	prefix    string
	ttl       time.Duration
	audit     bool
	logger    *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger for the handler.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithPrefix sets the cache key namespace. Defaults to halnet.DefaultKeyPrefix.
func WithPrefix(prefix string) Option {
	return func(h *Handler) {
		h.prefix = prefix
	}
}

// WithTTL sets the expiry of generated entries. Zero keeps them until evicted.
func WithTTL(ttl time.Duration) Option {
	return func(h *Handler) {
		h.ttl = ttl
	}
}

// WithPromptBuilder sets the builder used for generation requests.
func WithPromptBuilder(b *prompt.Builder) Option {
	return func(h *Handler) {
		h.prompts = b
	}
}

// WithLedger records materialized paths and lets the gate consult them.
func WithLedger(l Ledger) Option {
	return func(h *Handler) {
		h.ledger = l
	}
}

// WithLinkAudit logs generated links that break the one-level rule.
func WithLinkAudit(enabled bool) Option {
	return func(h *Handler) {
		h.audit = enabled
	}
}

// NewHandler creates a handler backed by s and g.
func NewHandler(s store.Store, g generate.Generator, opts ...Option) *Handler {
	h := &Handler{
		store:     s,
		generator: g,
		prefix:    halnet.DefaultKeyPrefix,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.prompts == nil {
		h.prompts = prompt.New()
	}
	h.logger = h.logger.With("component", "site")

	gateOpts := []hierarchy.Option{
		hierarchy.WithPrefix(h.prefix),
		hierarchy.WithLogger(h.logger),
	}
	if h.ledger != nil {
		gateOpts = append(gateOpts, hierarchy.WithLedger(h.ledger))
	}
	h.gate = hierarchy.New(s, gateOpts...)
	h.inflight = inflight.New(inflight.WithLogger(h.logger))
	return h
}

// Resolve runs the request state machine for rawPath and returns its outcome.
func (h *Handler) Resolve(ctx context.Context, rawPath string, query url.Values) Outcome {
	p := halnet.Normalize(rawPath)
	key := halnet.CacheKey(h.prefix, p)
	telemetry.SetKind(ctx, string(p.Kind))

	content, err := h.store.Get(ctx, key)
	switch {
	case err == nil:
		return &Cached{Path: p, Content: content}
	case !errors.Is(err, store.ErrNotFound):
		return &Failed{Path: p, Err: fmt.Errorf("cache lookup: %w", err)}
	}

	decision, err := h.gate.MayGenerate(ctx, p)
	if err != nil {
		return &Failed{Path: p, Err: err}
	}
	if !decision.Allowed {
		return &Blocked{Path: p, Parent: decision.Parent}
	}

	ctx = telemetry.WithKindContext(ctx, string(p.Kind))
	res, shared, err := h.inflight.Do(ctx, key, func(ctx context.Context) (*inflight.Result, error) {
		// A generation for key may have completed between the lookup above
		// and joining the group.
		content, err := h.store.Get(ctx, key)
		switch {
		case err == nil:
			return &inflight.Result{Content: content, Hash: halnet.Digest(content), Cached: true}, nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("cache lookup: %w", err)
		}
		return h.generate(ctx, p, key, query)
	})
	if err != nil {
		return &Failed{Path: p, Err: err}
	}
	if res.Cached {
		return &Cached{Path: p, Content: res.Content}
	}
	if shared {
		telemetry.SetShared(ctx, true)
		telemetry.RecordGenerationShared(ctx)
	}

	return &Generated{
		Path:     p,
		Content:  res.Content,
		Hash:     res.Hash,
		Provider: res.Provider,
		Model:    res.Model,
		Shared:   shared,
	}
}

// generate builds the prompt, calls the provider and writes the result.
// Nothing is written unless the provider succeeds.
func (h *Handler) generate(ctx context.Context, p halnet.Path, key string, query url.Values) (*inflight.Result, error) {
	var parentContent string
	if parent, ok := p.Parent(); ok && p.Kind == halnet.KindDocument {
		// Parent context is best-effort; a failed read only loses style hints.
		if b, err := h.store.Get(ctx, halnet.CacheKey(h.prefix, parent)); err == nil {
			parentContent = string(b)
		} else if !errors.Is(err, store.ErrNotFound) {
			h.logger.Debug("ignoring parent read failure", "path", p.Normalized, "parent", parent.Normalized, "error", err)
		}
	}

	req, err := h.prompts.Build(p, query, parentContent)
	if err != nil {
		return nil, fmt.Errorf("building prompt: %w", err)
	}

	h.logger.Info("cache miss, generating content", "path", p.Normalized, "kind", p.Kind, "provider", h.generator.Name())

	result, err := h.generator.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := h.store.Set(ctx, key, result.Content, h.ttl); err != nil {
		return nil, fmt.Errorf("cache write: %w", err)
	}

	if h.ledger != nil {
		if err := h.ledger.MarkVisited(ctx, p.Normalized); err != nil {
			h.logger.Warn("failed to record visited path", "path", p.Normalized, "error", err)
		}
	}

	if h.audit && p.Kind == halnet.KindDocument {
		for _, v := range generate.AuditLinks(p, result.Content) {
			h.logger.Debug("generated link breaks hierarchy", "path", p.Normalized, "href", v.Href, "target", v.Target, "delta", v.Delta)
		}
	}

	hash := halnet.Digest(result.Content)
	h.logger.Info("generated and cached new content",
		"path", p.Normalized,
		"key", key,
		"hash", hash.ShortString(),
		"bytes", len(result.Content),
		"duration", result.Duration,
	)

	return &inflight.Result{
		Content:  result.Content,
		Hash:     hash,
		Provider: result.Provider,
		Model:    result.Model,
	}, nil
}

// ServeHTTP resolves the request path and writes the outcome.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	outcome := h.Resolve(r.Context(), r.URL.Path, r.URL.Query())
	telemetry.SetCacheResult(r.Context(), outcome.CacheResult())

	switch o := outcome.(type) {
	case *Blocked:
		h.logger.Info("parent page not found", "path", o.Path.Normalized, "parent", o.Parent.Normalized)
	case *Failed:
		var perr *generate.ProviderError
		if errors.As(o.Err, &perr) {
			// Already logged by the generator with path context.
			h.logger.Debug("serving error page", "path", o.Path.Normalized, "error", o.Err)
		} else {
			h.logger.Error("error serving request", "path", o.Path.Normalized, "error", o.Err)
		}
	}

	h.Write(w, r, outcome)
}

// Write renders outcome as an HTTP response.
func (h *Handler) Write(w http.ResponseWriter, r *http.Request, outcome Outcome) {
	body := outcome.Body()

	w.Header().Set("Content-Type", outcome.ContentType())
	w.Header().Set("X-Cache", xCacheValue(outcome.CacheResult()))

	if e, ok := outcome.(etagger); ok {
		etag := e.ETag()
		w.Header().Set("ETag", etag)
		if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(outcome.Status())
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}

func xCacheValue(c telemetry.CacheResult) string {
	switch c {
	case telemetry.CacheHit:
		return "HIT"
	case telemetry.CacheMiss:
		return "MISS"
	case telemetry.CacheBlocked:
		return "BLOCKED"
	default:
		return "ERROR"
	}
}
