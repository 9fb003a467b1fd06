// ABOUTME: Markdown to HTML rendering for stored message content
// ABOUTME: Wraps goldmark with the conventions used for user and assistant turns

package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
)

// Markdown converts markdown source into an HTML fragment.
func Markdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}
	return buf.String(), nil
}

// Reply renders an assistant reply and removes the newlines goldmark emits
// between block elements, so the HTML fits on one line in chat clients.
func Reply(src string) (string, error) {
	html, err := Markdown(src)
	if err != nil {
		return "", err
	}
	return StripNewlines(html), nil
}

// StripNewlines removes every line feed from s.
func StripNewlines(s string) string {
	return strings.ReplaceAll(s, "\n", "")
}
