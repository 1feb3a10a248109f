package beacon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tertt-dev/grokgates/internal/completion"
	"github.com/tertt-dev/grokgates/pkg/monitoring"
)

func newTestFetcher(t *testing.T, handler http.HandlerFunc, cfg FetcherConfig) (*Fetcher, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	client := completion.NewClient(completion.Config{APIKey: "test", APIURL: srv.URL, Timeout: 5 * time.Second})
	metrics := monitoring.NewMetricsCollector("beacon-test", "test", "none")
	f := NewFetcher(client, cfg, NewHydrator(false), NewVerifier(false, false), logger, metrics)

	var slept []time.Duration
	f.sleep = func(ctx context.Context, d time.Duration) { slept = append(slept, d) }
	return f, &slept
}

func completionResponse(content string, citations []string, sources int) map[string]any {
	return map[string]any{
		"choices":   []map[string]any{{"message": map[string]any{"content": content}}},
		"citations": citations,
		"usage":     map[string]any{"num_sources_used": sources},
	}
}

func TestParseDirectText(t *testing.T) {
	content := `Tweet 1:
Username: alice
Text: "Solana fees are wild tonight, watch the mempool fill up"
URL: https://x.com/alice/status/123

Tweet 2:
Username: @bob
Text: "x"
URL: https://x.com/bob/status/456

Tweet 3:
Username: @carol
Text: "A real post about agent swarms trading on-chain"
URL: https://example.com/not/a/status`

	signals := parseDirectText(content)
	if len(signals) != 1 {
		t.Fatalf("want 1 signal, got %d: %+v", len(signals), signals)
	}
	s := signals[0]
	if s.Handle != "@alice" || s.Author != "alice" {
		t.Fatalf("handle normalization failed: %+v", s)
	}
	if s.Text != "Solana fees are wild tonight, watch the mempool fill up" {
		t.Fatalf("text = %q", s.Text)
	}
	if s.URL != "https://x.com/alice/status/123" {
		t.Fatalf("url = %q", s.URL)
	}
}

func TestFetchTopicDirectTextHit(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		content := "Username: @alice\nText: \"Liquidity is migrating to agent-run pools this week\"\nURL: https://x.com/alice/status/777"
		_ = json.NewEncoder(w).Encode(completionResponse(content, nil, 1))
	}
	f, _ := newTestFetcher(t, handler, FetcherConfig{Model: "m"})

	result := f.FetchTopic(context.Background(), "agent liquidity", PhaseWorldScan)
	if len(result.Signals) != 1 || result.Signals[0].Handle != "@alice" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Cost != costPerSource {
		t.Fatalf("cost = %v", result.Cost)
	}
}

func TestFetchTopicFallsThroughToStrictCitations(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		var req completion.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		prompt := req.Messages[len(req.Messages)-1].Content
		if strings.Contains(prompt, "show me the actual tweet text content") {
			// Direct-text strategy comes back with nothing parseable.
			_ = json.NewEncoder(w).Encode(completionResponse("No tweets were readable this time.", nil, 0))
			return
		}
		// Strict-citation strategy: a real citation with no quotable text.
		_ = json.NewEncoder(w).Encode(completionResponse("Nothing quotable surfaced.", []string{"https://x.com/bonkguy/status/111"}, 1))
	}
	f, _ := newTestFetcher(t, handler, FetcherConfig{Model: "m", RequireCitations: true})

	result := f.FetchTopic(context.Background(), "Bonk", PhaseWorldScan)
	if len(result.Signals) != 1 {
		t.Fatalf("want 1 signal, got %d: %+v", len(result.Signals), result.Signals)
	}
	s := result.Signals[0]
	if s.Handle != "@bonkguy" || s.Author != "bonkguy" || s.URL != "https://x.com/bonkguy/status/111" {
		t.Fatalf("unexpected signal: %+v", s)
	}
	if s.Text != "Recent tweet about Bonk from @bonkguy" {
		t.Fatalf("placeholder text = %q", s.Text)
	}
}

func TestSearchJSONCitationGate(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(completionResponse(`{"tweets": [{"handle": "@ghost", "text": "made up", "url": "https://x.com/ghost/status/1"}]}`, nil, 2))
	}
	f, _ := newTestFetcher(t, handler, FetcherConfig{Model: "m", RequireCitations: true})

	result := f.SearchJSON(context.Background(), "phantom topic", PhaseWorldScan)
	if len(result.Signals) != 0 {
		t.Fatalf("uncited signals must be dropped: %+v", result.Signals)
	}
	if result.Summary != "no valid citations" {
		t.Fatalf("summary = %q", result.Summary)
	}
}

func TestSearchJSONCleansAndDedups(t *testing.T) {
	inner, _ := json.Marshal(map[string]any{
		"tweets": []map[string]string{
			{"handle": "@bob", "text": "Bonk volume is ripping today, books are thin", "url": "https://x.com/bob/status/111"},
			{"handle": "@bob", "text": "Bonk volume is ripping today, books are thin", "url": "https://x.com/bob/status/111"},
			{"handle": "@carol", "text": "Here are some posts about bonk", "url": "https://x.com/carol/status/222"},
			{"handle": "@dan", "text": "legit text but the link is not a status", "url": "https://example.com/page"},
		},
		"summary": "bonk is moving",
	})
	handler := func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(completionResponse(string(inner), []string{"https://x.com/bob/status/111"}, 4))
	}
	f, _ := newTestFetcher(t, handler, FetcherConfig{Model: "m", RequireCitations: true})

	result := f.SearchJSON(context.Background(), "bonk", PhaseWorldScan)
	if len(result.Signals) != 1 {
		t.Fatalf("want 1 cleaned signal, got %d: %+v", len(result.Signals), result.Signals)
	}
	if result.Signals[0].Handle != "@bob" {
		t.Fatalf("unexpected survivor: %+v", result.Signals[0])
	}
	if result.Summary != "bonk is moving" {
		t.Fatalf("summary = %q", result.Summary)
	}
	if result.Cost != 4*costPerSource {
		t.Fatalf("cost = %v", result.Cost)
	}
}

func TestSearchJSONSalvagesFromCitations(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(completionResponse("I could not produce structured output this time.", []string{"https://x.com/bob/status/9"}, 1))
	}
	f, _ := newTestFetcher(t, handler, FetcherConfig{Model: "m", RequireCitations: true})

	result := f.SearchJSON(context.Background(), "anything", PhaseWorldScan)
	if len(result.Signals) != 1 || result.Signals[0].Handle != "@bob" {
		t.Fatalf("salvage failed: %+v", result)
	}
	if result.Summary != "salvaged from citations" {
		t.Fatalf("summary = %q", result.Summary)
	}
}

func TestSearchJSONRateLimitEntersCooldown(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}
	f, slept := newTestFetcher(t, handler, FetcherConfig{Model: "m"})

	result := f.SearchJSON(context.Background(), "any", PhaseWorldScan)
	if len(result.Signals) != 0 {
		t.Fatalf("expected empty result")
	}
	if len(*slept) != 2 || (*slept)[0] != 60*time.Second || (*slept)[1] != 120*time.Second {
		t.Fatalf("unexpected backoff ladder: %v", *slept)
	}
	if !f.RateLimited() {
		t.Fatalf("fetcher should be in cooldown after exhausting retries")
	}
}
