package generate

import (
	"strings"

	"github.com/wolfeidau/halnet"
)

// Clean strips a markdown code fence wrapped around the whole response, which
// models tend to add despite being asked for raw output. Content without a
// surrounding fence is returned trimmed but otherwise unchanged.
func Clean(kind halnet.Kind, content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") || len(trimmed) < 6 {
		return trimmed
	}

	body := strings.TrimSuffix(trimmed, "```")
	nl := strings.IndexByte(body, '\n')
	if nl < 0 {
		return trimmed
	}
	lang := strings.ToLower(strings.TrimSpace(body[3:nl]))
	if !fenceMatches(kind, lang) {
		return trimmed
	}
	return strings.TrimSpace(body[nl+1:])
}

func fenceMatches(kind halnet.Kind, lang string) bool {
	if lang == "" {
		return true
	}
	switch kind {
	case halnet.KindStylesheet:
		return lang == "css"
	case halnet.KindScript:
		return lang == "js" || lang == "javascript"
	case halnet.KindImage:
		return lang == "svg" || lang == "xml"
	default:
		return lang == "html" || lang == "json"
	}
}
