// Package readability extracts article body text from fetched HTML.
package readability

import (
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// Extract pulls the readable body text out of an HTML page. Best
// effort: it returns ok=false on any parse failure and never errors.
func Extract(html, pageURL string) (string, bool) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return "", false
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return "", false
	}
	return text, true
}
