// Package proposals harvests PROPOSE> tags from agent conversations and
// decides which of them are worth spending search budget on.
package proposals

import (
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
)

var proposalPattern = regexp.MustCompile(`(?i)PROPOSE>\s*([^\n]+)`)

// Proposal is one harvested search desire.
type Proposal struct {
	Text      string    `json:"text"`
	Agent     string    `json:"agent"`
	Timestamp time.Time `json:"timestamp"`
	Phase     string    `json:"phase,omitempty"`
	Hit       bool      `json:"hit"`
}

// SourceMessage is the slice of a conversation message the extractor needs.
type SourceMessage struct {
	Agent     string
	Content   string
	Timestamp time.Time
}

// Feedback carries lexicon updates earned by an extraction round.
type Feedback struct {
	Keywords   []string
	BanPhrases []string
}

// Extractor validates and ranks proposals against an adaptive lexicon. The
// lexicon is loaded once per round; persistence is the caller's concern.
type Extractor struct {
	Keywords     []string
	BanPhrases   []string
	MaxProposals int

	// Now is swappable for recency-score tests.
	Now func() time.Time

	// OnReject, when set, is called with the rejection reason for each
	// discarded candidate.
	OnReject func(reason string)
}

// NewExtractor seeds the lexicon and unions in the adaptive entries.
func NewExtractor(adaptiveKeywords, adaptiveBans []string, maxProposals int) *Extractor {
	return &Extractor{
		Keywords:     unionLower(seedKeywords, adaptiveKeywords),
		BanPhrases:   unionLower(seedBanPhrases, adaptiveBans),
		MaxProposals: maxProposals,
		Now:          time.Now,
	}
}

// Extract harvests proposals from messages newer than the window, validates
// them against the lexicon and history, and returns the ranked top slice plus
// lexicon feedback.
func (e *Extractor) Extract(msgs []SourceMessage, window time.Duration, history []Proposal) ([]Proposal, Feedback) {
	cutoff := e.Now().Add(-window)

	var candidates []Proposal
	for _, msg := range msgs {
		if msg.Timestamp.Before(cutoff) {
			continue
		}
		for _, match := range proposalPattern.FindAllStringSubmatch(msg.Content, -1) {
			p := Proposal{
				Text:      strings.TrimSpace(match[1]),
				Agent:     msg.Agent,
				Timestamp: msg.Timestamp,
			}
			if reason, ok := e.Validate(p.Text, history); ok {
				candidates = append(candidates, p)
			} else if e.OnReject != nil {
				e.OnReject(reason)
			}
		}
	}

	return e.rank(candidates)
}

// Validate applies the acceptance gates in order and reports the first
// failure. The empty reason with ok=true means the candidate passed.
func (e *Extractor) Validate(text string, history []Proposal) (reason string, ok bool) {
	lowered := strings.ToLower(strings.TrimSpace(text))

	if len(lowered) < 3 || len(lowered) > 100 {
		return "length", false
	}
	for _, word := range profanityFilter {
		if strings.Contains(lowered, word) {
			return "profanity", false
		}
	}
	if alnumRatio(lowered) < 0.5 {
		return "noise", false
	}
	if !containsAny(lowered, e.Keywords) {
		return "no_keyword", false
	}
	if containsAny(lowered, e.BanPhrases) {
		return "banned_phrase", false
	}
	if !hasConcreteAnchor(lowered) {
		return "no_anchor", false
	}
	for _, prev := range history {
		if strings.Contains(strings.ToLower(prev.Text), lowered) {
			return "duplicate", false
		}
	}
	return "", true
}

// rank scores candidates by echo count, recency within the window and anchor
// concreteness, dedups case-insensitively and keeps the top MaxProposals.
// Accepted texts feed the adaptive lexicon.
func (e *Extractor) rank(candidates []Proposal) ([]Proposal, Feedback) {
	if len(candidates) == 0 {
		return nil, Feedback{}
	}

	echoes := make(map[string]int, len(candidates))
	for _, p := range candidates {
		echoes[strings.ToLower(p.Text)]++
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Timestamp.After(candidates[j].Timestamp)
	})

	now := e.Now()
	type scored struct {
		p     Proposal
		score float64
	}
	var ranked []scored
	seen := make(map[string]struct{})
	for _, p := range candidates {
		lowered := strings.ToLower(p.Text)
		if _, dup := seen[lowered]; dup {
			continue
		}
		seen[lowered] = struct{}{}

		boost := 0.0
		if tickerPattern.MatchString(lowered) {
			boost += 1.5
		}
		if hashtagPattern.MatchString(lowered) {
			boost += 1.0
		}
		if containsAny(lowered, platformTerms) {
			boost += 0.5
		}
		recency := 1 - now.Sub(p.Timestamp).Seconds()/1800
		ranked = append(ranked, scored{p, float64(echoes[lowered]) + recency + boost})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	max := e.MaxProposals
	if max <= 0 {
		max = 5
	}
	if len(ranked) > max {
		ranked = ranked[:max]
	}
	top := make([]Proposal, len(ranked))
	for i, s := range ranked {
		top[i] = s.p
	}

	return top, e.feedback(top)
}

// feedback mines accepted texts for new tickers and hashtags to learn as
// keywords. Rounds that produced none instead ban up to three abstract
// "-ism/-ity/-tion" tokens, which keeps poetic fragments from recurring.
func (e *Extractor) feedback(top []Proposal) Feedback {
	joined := strings.ToLower(joinTexts(top))

	var keys []string
	keys = append(keys, tickerPattern.FindAllString(joined, -1)...)
	keys = append(keys, hashtagPattern.FindAllString(joined, -1)...)
	keys = dedupStrings(keys)
	if len(keys) > 0 {
		e.Keywords = unionLower(e.Keywords, keys)
		return Feedback{Keywords: keys}
	}

	var bans []string
	for _, tok := range wordPattern.FindAllString(joined, -1) {
		if strings.HasSuffix(tok, "ism") || strings.HasSuffix(tok, "ity") || strings.HasSuffix(tok, "tion") {
			bans = append(bans, tok)
			if len(bans) == 3 {
				break
			}
		}
	}
	if len(bans) > 0 {
		e.BanPhrases = unionLower(e.BanPhrases, bans)
	}
	return Feedback{BanPhrases: bans}
}

// MarkHits flags proposals whose text appears in the beacon content and
// returns the hit count.
func MarkHits(items []Proposal, beaconContent string) int {
	lowered := strings.ToLower(beaconContent)
	hits := 0
	for i := range items {
		if strings.Contains(lowered, strings.ToLower(items[i].Text)) {
			items[i].Hit = true
			hits++
		}
	}
	return hits
}

func alnumRatio(text string) float64 {
	if text == "" {
		return 0
	}
	count := 0
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			count++
		}
	}
	return float64(count) / float64(len([]rune(text)))
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(text, n) {
			return true
		}
	}
	return false
}

func joinTexts(items []Proposal) string {
	texts := make([]string, len(items))
	for i, p := range items {
		texts[i] = p.Text
	}
	return strings.Join(texts, " ")
}

func dedupStrings(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	var out []string
	for _, item := range items {
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

func unionLower(base, add []string) []string {
	seen := make(map[string]struct{}, len(base)+len(add))
	var out []string
	for _, list := range [][]string{base, add} {
		for _, item := range list {
			item = strings.ToLower(strings.TrimSpace(item))
			if item == "" {
				continue
			}
			if _, dup := seen[item]; dup {
				continue
			}
			seen[item] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}
