// ABOUTME: Renders message content from markdown to HTML for chat envelopes.
// ABOUTME: Raw HTML in the source is dropped; a render failure falls back to escaped text.

package markdown

import (
	"bytes"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// md is safe for concurrent use. Without html.WithUnsafe the renderer
// replaces raw HTML with a comment, so client-authored content cannot inject markup.
var md = goldmark.New(
	goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
	goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
)

// Render converts markdown content to an HTML fragment.
func Render(content string) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := md.Convert([]byte(content), &buf); err != nil {
		return "<p>" + html.EscapeString(content) + "</p>"
	}
	return strings.TrimSpace(buf.String())
}
