// Package telemetry provides request tagging for structured logging and metrics.
package telemetry

import (
	"context"
	"net/http"
)

type contextKey string

const (
	// requestTagsKey is the context key for request tags holder.
	requestTagsKey contextKey = "request_tags"
	// kindKey is the context key for propagating the resource kind to detached work.
	kindKey contextKey = "kind"
)

// CacheResult represents the outcome of a request against the page cache.
type CacheResult string

const (
	CacheHit     CacheResult = "hit"
	CacheMiss    CacheResult = "miss"
	CacheBlocked CacheResult = "blocked"
	CacheError   CacheResult = "error"
	CacheNA      CacheResult = "na"
)

// RequestTags holds mutable request metadata that handlers can set for logging.
type RequestTags struct {
	Kind        string
	CacheResult CacheResult
	Shared      bool
}

// InjectTags creates a new request with an empty RequestTags in context.
// Call this in middleware before handlers run.
func InjectTags(r *http.Request) *http.Request {
	tags := &RequestTags{CacheResult: CacheNA}
	return r.WithContext(context.WithValue(r.Context(), requestTagsKey, tags))
}

// GetTags retrieves the request tags from context.
// Returns nil if not in a request context with logging middleware.
func GetTags(r *http.Request) *RequestTags {
	return TagsFromContext(r.Context())
}

// TagsFromContext retrieves the request tags from a context.
func TagsFromContext(ctx context.Context) *RequestTags {
	if tags, ok := ctx.Value(requestTagsKey).(*RequestTags); ok {
		return tags
	}
	return nil
}

// SetCacheResult sets the cache result for logging.
func SetCacheResult(ctx context.Context, result CacheResult) {
	if tags := TagsFromContext(ctx); tags != nil {
		tags.CacheResult = result
	}
}

// SetKind sets the resource kind tag for metrics and logging.
func SetKind(ctx context.Context, kind string) {
	if tags := TagsFromContext(ctx); tags != nil {
		tags.Kind = kind
	}
}

// SetShared records that the response reused another request's generation.
func SetShared(ctx context.Context, shared bool) {
	if tags := TagsFromContext(ctx); tags != nil {
		tags.Shared = shared
	}
}

// KindFromContext retrieves the resource kind from a context.
// It checks both detached contexts (set by WithKindContext) and
// request contexts (set through InjectTags).
func KindFromContext(ctx context.Context) string {
	if k, ok := ctx.Value(kindKey).(string); ok && k != "" {
		return k
	}
	if tags := TagsFromContext(ctx); tags != nil {
		return tags.Kind
	}
	return ""
}

// WithKindContext returns a context with the resource kind stored.
// Use this to propagate the kind into work that outlives the request context.
func WithKindContext(ctx context.Context, kind string) context.Context {
	return context.WithValue(ctx, kindKey, kind)
}
