// Package halnet holds the path model shared by every layer of the HalNet
// server: normalization, resource kinds, parent derivation and cache keys.
package halnet

import (
	"strings"
)

// DefaultKeyPrefix is the namespace prepended to normalized paths to form cache keys.
const DefaultKeyPrefix = "halnet:"

// Kind classifies a path by the resource it names.
type Kind string

const (
	KindDocument   Kind = "document"
	KindStylesheet Kind = "stylesheet"
	KindScript     Kind = "script"
	KindImage      Kind = "image"
)

// Path is a normalized request path.
type Path struct {
	// Raw is the path as received.
	Raw string

	// Normalized has trailing slashes removed, except for the root.
	Normalized string

	// Segments are the non-empty "/" separated components of Normalized.
	Segments []string

	// Ext is the lower-cased extension of the final segment, without the dot.
	Ext string

	// Kind is derived from Ext.
	Kind Kind
}

// Normalize canonicalizes a raw request path. Any string is accepted.
func Normalize(raw string) Path {
	// Repeated trailing slashes are all removed so that normalizing is idempotent.
	normalized := strings.TrimRight(raw, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}

	var segments []string
	for _, s := range strings.Split(normalized, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}

	var ext string
	if n := len(segments); n > 0 {
		last := segments[n-1]
		if i := strings.LastIndexByte(last, '.'); i >= 0 {
			ext = strings.ToLower(last[i+1:])
		}
	}

	return Path{
		Raw:        raw,
		Normalized: normalized,
		Segments:   segments,
		Ext:        ext,
		Kind:       kindForExt(ext),
	}
}

func kindForExt(ext string) Kind {
	switch ext {
	case "css":
		return KindStylesheet
	case "js":
		return KindScript
	case "png", "jpg", "jpeg", "gif", "svg", "ico":
		return KindImage
	default:
		return KindDocument
	}
}

// String returns the normalized path.
func (p Path) String() string {
	return p.Normalized
}

// Depth is the number of segments; the root has depth zero.
func (p Path) Depth() int {
	return len(p.Segments)
}

// IsRoot reports whether p is "/".
func (p Path) IsRoot() bool {
	return len(p.Segments) == 0
}

// Parent returns the path with the final segment dropped.
// The root has no parent; paths of depth one have parent "/".
func (p Path) Parent() (Path, bool) {
	if p.IsRoot() {
		return Path{}, false
	}
	return Normalize("/" + strings.Join(p.Segments[:len(p.Segments)-1], "/")), true
}

// Label is a human readable name for the final segment, "home" for the root.
func (p Path) Label() string {
	if p.IsRoot() {
		return "home"
	}
	return p.Segments[len(p.Segments)-1]
}

// ContentType returns the response media type for p.
func (p Path) ContentType() string {
	return ContentType(p.Normalized)
}

// CacheKey returns the namespaced cache key for p.
func CacheKey(prefix string, p Path) string {
	return prefix + p.Normalized
}

// ContentType derives a media type from the extension of path alone.
// The extension is whatever follows the last "." anywhere in the string.
func ContentType(path string) string {
	var ext string
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		ext = strings.ToLower(path[i+1:])
	}

	switch ext {
	case "css":
		return "text/css"
	case "js":
		return "application/javascript"
	case "json":
		return "application/json"
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "svg":
		return "image/svg+xml"
	case "ico":
		return "image/x-icon"
	default:
		return "text/html"
	}
}
