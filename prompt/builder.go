// Package prompt turns a requested path into provider instructions.
package prompt

import (
	"embed"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"text/template"

	"github.com/wolfeidau/halnet"
	"github.com/wolfeidau/halnet/generate"
)

// MaxExcerpt is the number of characters of parent content included in a document prompt.
const MaxExcerpt = 2000

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(
	template.New("prompt").
		Funcs(template.FuncMap{"join": strings.Join}).
		ParseFS(templateFS, "templates/*.tmpl"),
)

var templateForKind = map[halnet.Kind]string{
	halnet.KindDocument:   "document.tmpl",
	halnet.KindStylesheet: "stylesheet.tmpl",
	halnet.KindScript:     "script.tmpl",
	halnet.KindImage:      "image.tmpl",
}

type templateData struct {
	Path          string
	ParentPath    string
	CurrentPage   string
	Query         string
	ParentExcerpt string
	Theme         *Theme
}

// Builder renders generation requests.
type Builder struct {
	maxTokens int
	theme     *Theme
}

// Option configures a Builder.
type Option func(*Builder)

// WithMaxTokens sets the completion bound on every request.
func WithMaxTokens(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.maxTokens = n
		}
	}
}

// WithSiteDomain themes every prompt after the given host name.
func WithSiteDomain(host string) Option {
	return func(b *Builder) {
		if host != "" {
			b.theme = ExtractDomainInfo(host)
		}
	}
}

// New creates a Builder.
func New(opts ...Option) *Builder {
	b := &Builder{maxTokens: generate.DefaultMaxTokens}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Theme returns the configured site theme, or nil.
func (b *Builder) Theme() *Theme {
	return b.theme
}

// Build renders the prompt for p. Query parameters and parent content only
// affect document prompts; parentContent is truncated with Excerpt.
func (b *Builder) Build(p halnet.Path, query url.Values, parentContent string) (generate.Request, error) {
	data := templateData{
		Path:  p.Normalized,
		Theme: b.theme,
	}

	if p.Kind == halnet.KindDocument {
		parent, ok := p.Parent()
		if !ok {
			parent = p
		}
		q, err := encodeQuery(query)
		if err != nil {
			return generate.Request{}, err
		}
		data.ParentPath = parent.Normalized
		data.CurrentPage = p.Label()
		data.Query = q
		data.ParentExcerpt = Excerpt(parentContent)
	}

	var sb strings.Builder
	if err := templates.ExecuteTemplate(&sb, templateForKind[p.Kind], data); err != nil {
		return generate.Request{}, fmt.Errorf("rendering %s prompt: %w", p.Kind, err)
	}

	return generate.Request{
		Path:      p,
		Prompt:    sb.String(),
		MaxTokens: b.maxTokens,
	}, nil
}

// Excerpt returns the first MaxExcerpt characters of content, with "..."
// appended when anything was cut.
func Excerpt(content string) string {
	r := []rune(content)
	if len(r) <= MaxExcerpt {
		return content
	}
	return string(r[:MaxExcerpt]) + "..."
}

// encodeQuery renders query parameters as a JSON object. Keys with a single
// value map to a string, repeated keys to an array of strings.
func encodeQuery(query url.Values) (string, error) {
	obj := make(map[string]any, len(query))
	for k, v := range query {
		if len(v) == 1 {
			obj[k] = v[0]
		} else {
			obj[k] = v
		}
	}
	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(obj); err != nil {
		return "", fmt.Errorf("encoding query parameters: %w", err)
	}
	return strings.TrimSuffix(sb.String(), "\n"), nil
}
