package beacon

import (
	"encoding/json"
	"regexp"
	"strings"
)

const salvageCap = 6

var statusURLPattern = regexp.MustCompile(`https?://(?:www\.)?(?:x\.com|twitter\.com)/[A-Za-z0-9_]{1,30}/status/\d+`)

// SalvageSignals digs status URLs out of a response that failed structured
// parsing. It walks the whole decoded body looking for url/source/href fields
// and bare strings, then falls back to scanning the message content when
// fewer than two signals were found. Salvaged signals carry no text; callers
// may hydrate them.
func SalvageSignals(raw json.RawMessage, content string) []Signal {
	type key struct{ handle, url string }
	seen := make(map[key]bool)
	var salvaged []Signal

	add := func(rawURL string) {
		if len(salvaged) >= salvageCap*2 {
			return
		}
		rawURL = strings.TrimSpace(rawURL)
		if rawURL == "" {
			return
		}
		handle := HandleFromStatusURL(rawURL)
		if handle == "" {
			return
		}
		k := key{handle, rawURL}
		if seen[k] {
			return
		}
		seen[k] = true
		salvaged = append(salvaged, Signal{
			Author: strings.TrimPrefix(handle, "@"),
			Handle: handle,
			URL:    rawURL,
		})
	}

	var walk func(node any)
	walk = func(node any) {
		switch v := node.(type) {
		case map[string]any:
			for k, child := range v {
				if s, ok := child.(string); ok {
					switch strings.ToLower(k) {
					case "url", "source", "href":
						add(s)
					}
					continue
				}
				walk(child)
			}
		case []any:
			for _, item := range v {
				walk(item)
			}
		case string:
			add(v)
		}
	}

	if len(raw) > 0 {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			walk(decoded)
		}
	}

	if len(salvaged) < 2 && content != "" {
		for _, match := range statusURLPattern.FindAllString(content, -1) {
			add(match)
		}
	}

	if len(salvaged) > salvageCap {
		salvaged = salvaged[:salvageCap]
	}
	return salvaged
}

// ExtractJSONObject returns the first balanced {...} block in content, for
// recovering JSON wrapped in prose or markdown.
func ExtractJSONObject(content string) (string, bool) {
	start := strings.IndexByte(content, '{')
	if start == -1 {
		return "", false
	}
	depth := 0
	for i := start; i < len(content); i++ {
		switch content[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1], true
			}
		}
	}
	return "", false
}

// StripMarkdownFences removes a leading ``` fence line and any trailing fence
// lines from model output.
func StripMarkdownFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	lines := strings.Split(content, "\n")
	lines = lines[1:]
	for len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
