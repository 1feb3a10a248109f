package beacon

import (
	"encoding/json"
	"fmt"
	"testing"
)

func TestSalvageSignalsFromFields(t *testing.T) {
	raw := json.RawMessage(`{
		"choices": [{"message": {"content": "prose, not json"}}],
		"citations": ["https://x.com/alice/status/111", "https://x.com/alice/status/111"],
		"extra": {"nested": {"url": "https://twitter.com/bob/status/222", "note": "https://x.com/ignored/status/999"}}
	}`)

	signals := SalvageSignals(raw, "")
	if len(signals) != 2 {
		t.Fatalf("want 2 salvaged signals, got %d: %+v", len(signals), signals)
	}
	seen := map[string]bool{}
	for _, s := range signals {
		seen[s.Handle] = true
		if s.Text != "" {
			t.Fatalf("salvaged signals carry no text, got %q", s.Text)
		}
	}
	if !seen["@alice"] || !seen["@bob"] {
		t.Fatalf("unexpected handles: %+v", signals)
	}
}

func TestSalvageSignalsContentFallback(t *testing.T) {
	content := "see https://x.com/carol/status/333 and https://twitter.com/dan/status/444 for details"
	signals := SalvageSignals(nil, content)
	if len(signals) != 2 {
		t.Fatalf("want 2 signals from content scan, got %d", len(signals))
	}
}

func TestSalvageSignalsCap(t *testing.T) {
	urls := make([]string, 10)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://x.com/user%d/status/%d", i, i)
	}
	raw, _ := json.Marshal(map[string]any{"citations": urls})
	signals := SalvageSignals(raw, "")
	if len(signals) != salvageCap {
		t.Fatalf("want cap of %d, got %d", salvageCap, len(signals))
	}
}

func TestExtractJSONObject(t *testing.T) {
	block, ok := ExtractJSONObject(`Sure, here you go: {"tweets": [{"a": {"b": 1}}]} hope that helps`)
	if !ok || block != `{"tweets": [{"a": {"b": 1}}]}` {
		t.Fatalf("got %q ok=%v", block, ok)
	}
	if _, ok := ExtractJSONObject("no braces here"); ok {
		t.Fatalf("should not find an object")
	}
	if _, ok := ExtractJSONObject(`{"unbalanced": [`); ok {
		t.Fatalf("unbalanced braces should fail")
	}
}

func TestStripMarkdownFences(t *testing.T) {
	in := "```json\n{\"tweets\": []}\n```"
	if got := StripMarkdownFences(in); got != `{"tweets": []}` {
		t.Fatalf("got %q", got)
	}
	if got := StripMarkdownFences(`{"plain": true}`); got != `{"plain": true}` {
		t.Fatalf("unfenced content changed: %q", got)
	}
}
