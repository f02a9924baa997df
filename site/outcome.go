package site

import (
	"net/http"

	"github.com/wolfeidau/halnet"
	"github.com/wolfeidau/halnet/telemetry"
)

// Outcome is the terminal state of resolving one request.
type Outcome interface {
	// Status is the HTTP status code to respond with.
	Status() int
	// Body is the response body.
	Body() []byte
	// ContentType is derived from the requested path.
	ContentType() string
	// CacheResult tags the response for logging, metrics and the X-Cache header.
	CacheResult() telemetry.CacheResult
}

// Cached is content served from the store without calling the provider.
type Cached struct {
	Path    halnet.Path
	Content []byte
}

func (c *Cached) Status() int                        { return http.StatusOK }
func (c *Cached) Body() []byte                       { return c.Content }
func (c *Cached) ContentType() string                { return c.Path.ContentType() }
func (c *Cached) CacheResult() telemetry.CacheResult { return telemetry.CacheHit }

// ETag identifies Content.
func (c *Cached) ETag() string { return halnet.Digest(c.Content).ETag() }

// Blocked means the path's parent has not been materialized yet. It is never cached.
type Blocked struct {
	Path   halnet.Path
	Parent halnet.Path
}

func (b *Blocked) Status() int { return http.StatusNotFound }
func (b *Blocked) Body() []byte {
	return renderBlocked(b.Path.Normalized, b.Parent.Normalized)
}
func (b *Blocked) ContentType() string                { return b.Path.ContentType() }
func (b *Blocked) CacheResult() telemetry.CacheResult { return telemetry.CacheBlocked }

// Generated is fresh content that has been written to the store.
type Generated struct {
	Path     halnet.Path
	Content  []byte
	Hash     halnet.Hash
	Provider string
	Model    string
	// Shared is true when the content came from another request's generation.
	Shared bool
}

func (g *Generated) Status() int                        { return http.StatusOK }
func (g *Generated) Body() []byte                       { return g.Content }
func (g *Generated) ContentType() string                { return g.Path.ContentType() }
func (g *Generated) CacheResult() telemetry.CacheResult { return telemetry.CacheMiss }

// ETag identifies Content, hashing it when Hash was not set.
func (g *Generated) ETag() string {
	if g.Hash.IsZero() {
		return halnet.Digest(g.Content).ETag()
	}
	return g.Hash.ETag()
}

// Failed is any unhandled failure. Err is logged and never shown to the client.
type Failed struct {
	Path halnet.Path
	Err  error
}

func (f *Failed) Status() int                        { return http.StatusInternalServerError }
func (f *Failed) Body() []byte                       { return []byte(ErrorPage) }
func (f *Failed) ContentType() string                { return "text/html" }
func (f *Failed) CacheResult() telemetry.CacheResult { return telemetry.CacheError }

// etagger is implemented by outcomes that carry cacheable content.
type etagger interface {
	ETag() string
}

var (
	_ Outcome = (*Cached)(nil)
	_ Outcome = (*Blocked)(nil)
	_ Outcome = (*Generated)(nil)
	_ Outcome = (*Failed)(nil)
)
