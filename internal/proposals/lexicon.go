package proposals

import (
	"regexp"
	"strings"
)

// Seed lexicon. The adaptive entries stored in Redis are unioned in at
// construction time.
var seedKeywords = []string{
	"pump", "pump.fun", "pumpswap", "airdrop", "memecoin", "token", "launch",
	"solana", "ethereum", "bitcoin", "$", "#", "ai", "agent", "grok", "gpt", "bonk",
}

var seedBanPhrases = []string{"hyperstition", "eldritch", "necromancy"}

var profanityFilter = []string{"fuck", "shit", "damn", "ass", "bitch"}

// platformTerms are proper nouns likely to surface real posts. A proposal
// with no ticker or hashtag must name one of these.
var platformTerms = []string{"pump.fun", "pumpswap", "solana", "ethereum", "bitcoin"}

var anchorNouns = []string{
	"solana", "ethereum", "bitcoin", "grok", "gpt", "bonk", "elon",
	"openai", "xai", "ai agent", "memecoin",
}

var (
	tickerPattern  = regexp.MustCompile(`\$[a-z0-9]{2,10}`)
	hashtagPattern = regexp.MustCompile(`#[a-z0-9_]{2,30}`)
	wordPattern    = regexp.MustCompile(`[a-z]{6,}`)
)

// interestKeywords feed the cheap heuristic that orders proposals before a
// self-directed scan. The "conciousness" misspelling is load-bearing: agents
// misspell it too.
var interestKeywords = []string{
	"pump", "airdrop", "memecoin", "agent", "grok", "solana", "ethereum",
	"bitcoin", "alon", "a1lon9", "bonk", "pump.fun", "pumpswap", "gpt",
	"llama", "gemini", "bags.fm", "viral marketing", "ai", "conciousness",
	"agi", "autonomous agents", "ai agents",
}

// InterestScore estimates how likely a proposal text is to surface real
// posts. Tickers and hashtags count double.
func InterestScore(text string) int {
	lowered := strings.ToLower(text)
	score := 0
	if strings.Contains(lowered, "$") || strings.Contains(lowered, "#") {
		score += 2
	}
	for _, kw := range interestKeywords {
		if strings.Contains(lowered, kw) {
			score++
		}
	}
	return score
}

// hasConcreteAnchor requires a ticker, hashtag, launch platform, or a known
// proper noun somewhere in the lowered text.
func hasConcreteAnchor(lowered string) bool {
	if tickerPattern.MatchString(lowered) || hashtagPattern.MatchString(lowered) {
		return true
	}
	if containsAny(lowered, []string{"pump.fun", "pumpswap"}) {
		return true
	}
	return containsAny(lowered, anchorNouns)
}
