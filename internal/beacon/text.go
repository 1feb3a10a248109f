package beacon

import (
	"regexp"
	"strings"
)

// metaMarkers flag narration the search model wraps around results instead
// of actual post text.
var metaMarkers = []string{
	"Here are", "Based on a search", "These posts", "as of",
	"formatted as requested", "X (formerly Twitter)", "I've compiled",
	"Note that these",
}

// IsMetaText reports whether text is model narration rather than post
// content.
func IsMetaText(text string) bool {
	lowered := strings.ToLower(strings.TrimSpace(text))
	for _, marker := range metaMarkers {
		if strings.Contains(lowered, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

var cleanPrefixPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^This tweets? is @\w+ tweets?[:\s]*`),
	regexp.MustCompile(`(?i)^This is @\w+ tweets?[:\s]*`),
	regexp.MustCompile(`(?i)^@\w+ tweets?[:\s]*`),
	regexp.MustCompile(`(?i)^From @\w+[:\s]*`),
	regexp.MustCompile(`(?i)^\w+ tweets?[:\s]*`),
	regexp.MustCompile(`(?i)^This tweets? is @\w+ tweets? and tweet link[:\s]*`),
	regexp.MustCompile(`(?i)\s*\[.*?\]\s*$`),
	regexp.MustCompile(`(?i)\s*https?://\S+\s*$`),
	regexp.MustCompile(`(?i)\s*and tweet link\s*$`),
}

// CleanText strips the wrapper phrases and trailing links the search model
// tends to add around post text. If stripping removes more than 70% of the
// text the original is kept, since that usually means the text was all
// wrapper-shaped but real.
func CleanText(text string) string {
	if text == "" {
		return text
	}
	cleaned := text
	for _, pattern := range cleanPrefixPatterns {
		cleaned = strings.TrimSpace(pattern.ReplaceAllString(cleaned, ""))
	}
	if float64(len(cleaned)) < float64(len(text))*0.3 {
		return text
	}
	if cleaned == "" {
		return text
	}
	return cleaned
}

var (
	sentenceSplit  = regexp.MustCompile(`[.!?]\s+`)
	leadingNumber  = regexp.MustCompile(`^\d+\.\s*`)
	leadingBullet  = regexp.MustCompile("^[-•]\\s*")
	quotedSpan     = regexp.MustCompile(`"([^"]{20,280})"`)
	quotedSpanApos = regexp.MustCompile(`'([^']{20,280})'`)
)

// ExtractTextNearHandle mines free-form response content for text that looks
// like the post by handle. Three passes, cheapest first: quoted text adjacent
// to the username, then sentences naming the username, then any quoted span
// mentioning the topic.
func ExtractTextNearHandle(content, handle, topic string) string {
	if content == "" {
		return ""
	}
	username := strings.ToLower(strings.TrimPrefix(handle, "@"))

	for _, needle := range []string{username, strings.ToLower(handle)} {
		escaped := regexp.QuoteMeta(needle)
		patterns := []*regexp.Regexp{
			regexp.MustCompile(`(?i)` + escaped + `[^"']*["']([^"']+)["']`),
			regexp.MustCompile(`(?i)["']([^"']+)["'][^"']*` + escaped),
		}
		for _, p := range patterns {
			for _, m := range p.FindAllStringSubmatch(content, -1) {
				if candidate := strings.TrimSpace(m[1]); len(candidate) > 15 && len(candidate) < 300 {
					return candidate
				}
			}
		}
	}

	for _, sentence := range sentenceSplit.Split(content, -1) {
		lowered := strings.ToLower(sentence)
		if (strings.Contains(lowered, username) || strings.Contains(lowered, strings.ToLower(handle))) && len(sentence) > 30 {
			clean := leadingNumber.ReplaceAllString(sentence, "")
			clean = leadingBullet.ReplaceAllString(clean, "")
			clean = strings.TrimSpace(clean)
			if len(clean) > 20 {
				return truncateRunes(clean, 280)
			}
		}
	}

	loweredTopic := strings.ToLower(topic)
	for _, p := range []*regexp.Regexp{quotedSpan, quotedSpanApos} {
		for _, m := range p.FindAllStringSubmatch(content, -1) {
			candidate := strings.TrimSpace(m[1])
			if len(candidate) > 15 && strings.Contains(strings.ToLower(candidate), loweredTopic) {
				return truncateRunes(candidate, 280)
			}
		}
	}

	return ""
}

// ExtractSentenceWithUsername finds the longest sentence fragment in content
// that names the username, stripped of numbering and bullets.
func ExtractSentenceWithUsername(content, handle string) string {
	username := strings.TrimPrefix(handle, "@")
	if username == "" || !strings.Contains(content, username) {
		return ""
	}
	pattern := regexp.MustCompile(`(?i)[^.!?\n]*@?` + regexp.QuoteMeta(username) + `[^.!?\n]*[.!?]`)
	matches := pattern.FindAllString(content, -1)
	if len(matches) == 0 {
		return ""
	}
	longest := ""
	for _, m := range matches {
		if len(m) > len(longest) {
			longest = m
		}
	}
	longest = leadingNumber.ReplaceAllString(strings.TrimSpace(longest), "")
	longest = leadingBullet.ReplaceAllString(longest, "")
	return truncateRunes(strings.TrimSpace(longest), 360)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
