package web

import (
	"bytes"

	"github.com/yuin/goldmark"
)

// renderMarkdown converts assistant markdown to an HTML fragment for
// the chat page. On render failure the raw text is returned so the
// reply is never lost.
func renderMarkdown(md string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return md
	}
	return buf.String()
}
