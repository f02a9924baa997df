package generate

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/wolfeidau/halnet"
)

// LinkViolation is an internal link that moves more than one level from the page.
type LinkViolation struct {
	Href   string
	Target string
	Delta  int
}

// AuditLinks parses a generated document and returns internal links that are
// not within one level of p: the parent, the page itself, a sibling or a
// direct child. External links are skipped. Invalid markup never fails the
// audit; whatever the tokenizer recovers is checked.
func AuditLinks(p halnet.Path, content []byte) []LinkViolation {
	base := &url.URL{Path: p.Normalized}

	var violations []LinkViolation
	z := html.NewTokenizer(bytes.NewReader(content))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return violations
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		name, hasAttr := z.TagName()
		if string(name) != "a" || !hasAttr {
			continue
		}
		for {
			key, val, more := z.TagAttr()
			if string(key) == "href" {
				if v, ok := auditHref(p, base, string(val)); !ok {
					violations = append(violations, v)
				}
			}
			if !more {
				break
			}
		}
	}
}

func auditHref(p halnet.Path, base *url.URL, href string) (LinkViolation, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return LinkViolation{}, true
	}
	u, err := url.Parse(href)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return LinkViolation{}, true
	}

	target := halnet.Normalize(base.ResolveReference(u).Path)
	if withinOneLevel(p, target) {
		return LinkViolation{}, true
	}
	return LinkViolation{Href: href, Target: target.Normalized, Delta: target.Depth() - p.Depth()}, false
}

func withinOneLevel(p, target halnet.Path) bool {
	// Assets are shared across the page tree.
	if target.Kind != halnet.KindDocument {
		return true
	}
	if target.Normalized == p.Normalized {
		return true
	}
	if parent, ok := p.Parent(); ok && target.Normalized == parent.Normalized {
		return true
	}
	if tp, ok := target.Parent(); ok {
		if tp.Normalized == p.Normalized {
			return true
		}
		if pp, ok := p.Parent(); ok && tp.Normalized == pp.Normalized {
			return true
		}
	}
	return false
}
