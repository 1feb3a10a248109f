package beacon

import (
	"context"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	xhtml "golang.org/x/net/html"
)

// Hydrator recovers post text from a status page's public meta description
// tags. Many CDNs block HEAD for meta content, so it always uses GET.
type Hydrator struct {
	Enabled bool
	Client  *http.Client
}

func NewHydrator(enabled bool) *Hydrator {
	return &Hydrator{
		Enabled: enabled,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

var metaDescriptionKeys = map[string]bool{
	"og:description":      true,
	"twitter:description": true,
	"description":         true,
}

// Hydrate fetches the URL and returns its meta description, capped at 360
// characters. Returns "" when disabled, unreachable, or when the description
// looks like markup rather than text.
func (h *Hydrator) Hydrate(ctx context.Context, rawURL string) string {
	if !h.Enabled {
		return ""
	}
	if !IsValidStatusURL(rawURL) {
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := h.Client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	return extractMetaDescription(io.LimitReader(resp.Body, 1<<20))
}

// extractMetaDescription tokenizes the document and returns the first usable
// description meta tag content.
func extractMetaDescription(r io.Reader) string {
	tokenizer := xhtml.NewTokenizer(r)
	for {
		switch tokenizer.Next() {
		case xhtml.ErrorToken:
			return ""
		case xhtml.StartTagToken, xhtml.SelfClosingTagToken:
			token := tokenizer.Token()
			if token.Data != "meta" {
				continue
			}
			var key, content string
			for _, attr := range token.Attr {
				switch attr.Key {
				case "property", "name":
					key = strings.ToLower(attr.Val)
				case "content":
					content = attr.Val
				}
			}
			if !metaDescriptionKeys[key] {
				continue
			}
			content = html.UnescapeString(strings.TrimSpace(content))
			if len(content) <= 20 {
				continue
			}
			if strings.HasPrefix(content, "<") || strings.Contains(content, "function(") {
				continue
			}
			return truncateRunes(content, 360)
		}
	}
}
