package proposals

import (
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
}

func newTestExtractor() *Extractor {
	ex := NewExtractor(nil, nil, 5)
	ex.Now = fixedNow
	return ex
}

func TestExtractAcceptsConcreteProposal(t *testing.T) {
	ex := newTestExtractor()
	msgs := []SourceMessage{
		{Agent: "EGO", Content: "the void hums\nPROPOSE> $FARTCOIN solana breakout", Timestamp: fixedNow().Add(-time.Minute)},
	}

	top, _ := ex.Extract(msgs, 30*time.Minute, nil)
	if len(top) != 1 {
		t.Fatalf("expected 1 proposal, got %d", len(top))
	}
	if top[0].Text != "$FARTCOIN solana breakout" {
		t.Fatalf("unexpected text %q", top[0].Text)
	}
	if top[0].Agent != "EGO" {
		t.Fatalf("unexpected agent %q", top[0].Agent)
	}
}

func TestExtractRejectsAbstractProposal(t *testing.T) {
	ex := newTestExtractor()
	var reasons []string
	ex.OnReject = func(r string) { reasons = append(reasons, r) }

	msgs := []SourceMessage{
		{Agent: "OBSERVER", Content: "PROPOSE> eldritch void resonance", Timestamp: fixedNow()},
	}
	top, _ := ex.Extract(msgs, 30*time.Minute, nil)
	if len(top) != 0 {
		t.Fatalf("abstract proposal should be rejected, got %v", top)
	}
	if len(reasons) != 1 || reasons[0] != "no_keyword" {
		t.Fatalf("unexpected rejection reasons %v", reasons)
	}
}

func TestValidateGates(t *testing.T) {
	ex := newTestExtractor()
	cases := []struct {
		text   string
		reason string
	}{
		{"ab", "length"},
		{"fuck solana", "profanity"},
		{"$$$ ### !!! solana??!!..--..", "noise"},
		{"quantum dreams unfolding slowly", "no_keyword"},
		{"hyperstition of solana", "banned_phrase"},
		{"token of pure thought", "no_anchor"},
	}
	for _, tc := range cases {
		if reason, ok := ex.Validate(tc.text, nil); ok || reason != tc.reason {
			t.Errorf("Validate(%q) = (%q, %v), want (%q, false)", tc.text, reason, ok, tc.reason)
		}
	}

	if reason, ok := ex.Validate("#bonk rally on solana", nil); !ok {
		t.Fatalf("concrete proposal rejected: %s", reason)
	}
}

func TestValidateHistoryDedup(t *testing.T) {
	ex := newTestExtractor()
	history := []Proposal{{Text: "watch the $BONK rally closely"}}
	if reason, ok := ex.Validate("$bonk rally", history); ok || reason != "duplicate" {
		t.Fatalf("expected duplicate rejection, got (%q, %v)", reason, ok)
	}
}

func TestRankPrefersEchoedAndAnchored(t *testing.T) {
	ex := newTestExtractor()
	now := fixedNow()
	msgs := []SourceMessage{
		{Agent: "EGO", Content: "PROPOSE> solana memecoin season", Timestamp: now.Add(-20 * time.Minute)},
		{Agent: "OBSERVER", Content: "PROPOSE> solana memecoin season", Timestamp: now.Add(-10 * time.Minute)},
		{Agent: "EGO", Content: "PROPOSE> grok agents", Timestamp: now.Add(-time.Minute)},
	}

	top, _ := ex.Extract(msgs, 30*time.Minute, nil)
	if len(top) != 2 {
		t.Fatalf("expected 2 unique proposals, got %d", len(top))
	}
	if top[0].Text != "solana memecoin season" {
		t.Fatalf("echoed proposal should rank first, got %q", top[0].Text)
	}
}

func TestFeedbackLearnsTickers(t *testing.T) {
	ex := newTestExtractor()
	msgs := []SourceMessage{
		{Agent: "EGO", Content: "PROPOSE> $wif momentum on solana", Timestamp: fixedNow()},
	}
	_, fb := ex.Extract(msgs, 30*time.Minute, nil)
	if len(fb.Keywords) != 1 || fb.Keywords[0] != "$wif" {
		t.Fatalf("expected ticker feedback, got %+v", fb)
	}
	if reason, ok := ex.Validate("$wif again on solana chain", nil); !ok {
		t.Fatalf("learned keyword not applied: %s", reason)
	}
}

func TestMarkHits(t *testing.T) {
	items := []Proposal{
		{Text: "$BONK rally"},
		{Text: "grok agents"},
	}
	hits := MarkHits(items, "◈ @dev: the $bonk rally continues")
	if hits != 1 {
		t.Fatalf("expected 1 hit, got %d", hits)
	}
	if !items[0].Hit || items[1].Hit {
		t.Fatalf("wrong proposals marked: %+v", items)
	}
}

func TestInterestScore(t *testing.T) {
	if got := InterestScore("$BONK pump on solana"); got < 4 {
		t.Fatalf("anchored text scored %d, want >= 4", got)
	}
	if got := InterestScore("the quiet hum of wires"); got != 0 {
		t.Fatalf("plain text scored %d, want 0", got)
	}
}
