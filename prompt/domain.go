package prompt

import (
	"regexp"
	"strings"
	"unicode"
)

var portSuffix = regexp.MustCompile(`:\d+$`)

// Theme describes the site a HalNet instance is configured to serve. It is
// derived once from configuration; request Host headers are never consulted.
type Theme struct {
	Host      string
	Domain    string
	Subdomain string
	TLD       string
	Keywords  []string
}

// ExtractDomainInfo splits host into its domain parts and derives theme
// keywords from camel case and "-", "_" or "." separated words.
func ExtractDomainInfo(host string) *Theme {
	clean := portSuffix.ReplaceAllString(host, "")
	parts := strings.Split(clean, ".")

	if len(parts) < 2 {
		return &Theme{
			Host:     clean,
			Domain:   clean,
			Keywords: []string{clean},
		}
	}

	t := &Theme{
		Host: clean,
		TLD:  parts[len(parts)-1],
	}
	if len(parts) == 2 {
		t.Domain = parts[0]
	} else {
		t.Domain = parts[len(parts)-2]
		t.Subdomain = strings.Join(parts[:len(parts)-2], ".")
	}
	t.Keywords = extractKeywords(t.Domain, t.Subdomain)
	return t
}

func extractKeywords(domain, subdomain string) []string {
	var words []string
	words = append(words, splitCamelCase(domain)...)
	words = append(words, splitByDelimiters(domain)...)
	if subdomain != "" {
		words = append(words, splitCamelCase(subdomain)...)
		words = append(words, splitByDelimiters(subdomain)...)
	}

	seen := make(map[string]struct{}, len(words))
	var keywords []string
	for _, w := range words {
		if len([]rune(w)) <= 1 {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		keywords = append(keywords, w)
	}
	return keywords
}

// splitCamelCase breaks s before every upper case letter and lower cases each piece.
func splitCamelCase(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			out = append(out, strings.ToLower(s[start:i]))
			start = i
		}
	}
	if start < len(s) {
		out = append(out, strings.ToLower(s[start:]))
	}
	return out
}

func splitByDelimiters(s string) []string {
	var out []string
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == '_' || r == '.' }) {
		if len([]rune(f)) > 1 {
			out = append(out, f)
		}
	}
	return out
}
