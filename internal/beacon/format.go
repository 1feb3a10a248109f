package beacon

import (
	"fmt"
	"strings"
)

const (
	worldScanHeader    = "╔══════════ WORLD SCAN INTERCEPT ══════════╗"
	selfDirectedHeader = "╔═══════ SELF-DIRECTED ECHO SIGNALS ═══════╗"

	displayTextLimit = 220
)

// FormatDisplay renders a batch for the agents and the board. Up to 3 topics
// with 3 signals each, then a numbered source list capped at 5.
func FormatDisplay(signals []Signal, phase Phase, groups []TopicGroup, timeStr string) string {
	var lines []string
	var otherSources []string

	if timeStr != "" {
		lines = append(lines, fmt.Sprintf("[%s] %s", timeStr, phase), "")
	}

	header := worldScanHeader
	if phase == PhaseSelfDirected {
		header = selfDirectedHeader
	}
	lines = append(lines, header)

	appendSignal := func(s Signal) {
		author := s.Handle
		if author == "" {
			author = "@" + orUnknown(s.Author)
		}
		lines = append(lines, fmt.Sprintf("◈ %s: %s", author, truncateAtWord(CleanText(s.Text), displayTextLimit)))
		if s.URL != "" && IsValidStatusURL(s.URL) {
			otherSources = append(otherSources, s.URL)
		}
	}

	if len(groups) > 0 {
		shown := groups
		if len(shown) > 3 {
			shown = shown[:3]
		}
		for _, group := range shown {
			lines = append(lines, "", "## "+group.Topic)
			tweets := group.Signals
			if len(tweets) > 3 {
				tweets = tweets[:3]
			}
			for _, s := range tweets {
				appendSignal(s)
			}
		}
	} else {
		flat := signals
		if len(flat) > 6 {
			flat = flat[:6]
		}
		for _, s := range flat {
			appendSignal(s)
		}
	}

	if len(otherSources) > 0 {
		lines = append(lines, "", "Other Sources:")
		if len(otherSources) > 5 {
			otherSources = otherSources[:5]
		}
		for i, url := range otherSources {
			lines = append(lines, fmt.Sprintf("  %d. %s", i+1, url))
		}
	}

	lines = append(lines, "╚"+strings.Repeat("═", headerWidth(header)-2)+"╝")
	return strings.Join(lines, "\n")
}

func headerWidth(header string) int {
	return len([]rune(header))
}

// truncateAtWord cuts at the last space before limit and appends an
// ellipsis, so words are never chopped mid-way.
func truncateAtWord(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	prefix := string(runes[:limit])
	if idx := strings.LastIndex(prefix, " "); idx != -1 {
		prefix = prefix[:idx]
	}
	return prefix + "…"
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
