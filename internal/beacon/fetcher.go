package beacon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tertt-dev/grokgates/internal/completion"
	"github.com/tertt-dev/grokgates/pkg/logging"
	"github.com/tertt-dev/grokgates/pkg/monitoring"
)

const (
	maxRetries     = 2
	costPerSource  = 0.025
	worldScanDays  = 14
	maxSearchHits  = 35
	placeholderFmt = "Recent tweet about %s from %s"
)

// FetcherConfig selects models and gates for one fetcher.
type FetcherConfig struct {
	Model            string
	FallbackModel    string
	RequireCitations bool
	RateCooldown     time.Duration
}

// Fetcher runs the per-topic search cascade. Strategies are ordered by text
// quality: direct text extraction first, then strict citations, then the
// schema-constrained search, with citations-only hydration as the last
// resort for world scans.
type Fetcher struct {
	client   *completion.Client
	cfg      FetcherConfig
	hydrator *Hydrator
	verifier *Verifier
	logger   logging.Logger
	metrics  *monitoring.MetricsCollector

	// sleep and now are swappable for tests.
	sleep func(ctx context.Context, d time.Duration)
	now   func() time.Time

	mu               sync.Mutex
	rateLimitedUntil time.Time
}

func NewFetcher(client *completion.Client, cfg FetcherConfig, hydrator *Hydrator, verifier *Verifier, logger logging.Logger, metrics *monitoring.MetricsCollector) *Fetcher {
	if cfg.RateCooldown == 0 {
		cfg.RateCooldown = 10 * time.Minute
	}
	return &Fetcher{
		client:   client,
		cfg:      cfg,
		hydrator: hydrator,
		verifier: verifier,
		logger:   logger,
		metrics:  metrics,
		sleep:    sleepCtx,
		now:      time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// RateLimited reports whether the fetcher is inside a rate-limit cooldown.
// All topics fail fast until the cooldown expires.
func (f *Fetcher) RateLimited() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now().Before(f.rateLimitedUntil)
}

func (f *Fetcher) enterCooldown() {
	f.mu.Lock()
	f.rateLimitedUntil = f.now().Add(f.cfg.RateCooldown)
	f.mu.Unlock()
	f.logger.WithField("until", f.rateLimitedUntil.Format(time.RFC3339)).Warn("Rate limit cooldown engaged")
}

// FetchTopic runs the full strategy cascade for one topic. It never returns
// an error: a topic that yields nothing returns an empty result so the scan
// can move on.
func (f *Fetcher) FetchTopic(ctx context.Context, topic string, phase Phase) FetchResult {
	if !f.client.Enabled() || f.RateLimited() {
		return FetchResult{Topic: topic}
	}

	if signals := f.fetchDirectText(ctx, topic); len(signals) > 0 {
		f.metrics.BeaconFetches.WithLabelValues("direct_text", "hit").Inc()
		return FetchResult{Topic: topic, Signals: signals, Cost: costPerSource}
	}
	f.metrics.BeaconFetches.WithLabelValues("direct_text", "miss").Inc()

	if signals := f.fetchStrictCitations(ctx, topic); len(signals) > 0 {
		f.metrics.BeaconFetches.WithLabelValues("strict_citations", "hit").Inc()
		return FetchResult{Topic: topic, Signals: signals}
	}
	f.metrics.BeaconFetches.WithLabelValues("strict_citations", "miss").Inc()

	result := f.SearchJSON(ctx, topic, phase)
	if len(result.Signals) > 0 {
		f.metrics.BeaconFetches.WithLabelValues("json_search", "hit").Inc()
		return result
	}
	f.metrics.BeaconFetches.WithLabelValues("json_search", "miss").Inc()

	if phase == PhaseWorldScan {
		if signals := f.fetchCitationsOnly(ctx, topic, phase); len(signals) > 0 {
			f.metrics.BeaconFetches.WithLabelValues("citations_only", "hit").Inc()
			return FetchResult{Topic: topic, Signals: signals}
		}
		f.metrics.BeaconFetches.WithLabelValues("citations_only", "miss").Inc()
	}

	return FetchResult{Topic: topic}
}

// fetchDirectText asks the search model to transcribe posts in a plain
// Username/Text/URL line format, which it follows more reliably than JSON.
func (f *Fetcher) fetchDirectText(ctx context.Context, topic string) []Signal {
	prompt := fmt.Sprintf(`Search Twitter/X for %q and show me the actual tweet text content.

When you perform the Live Search, you can see the tweets. Please copy the exact text from 3-5 recent tweets and show them like this:

Tweet 1:
Username: @example
Text: "The actual tweet text goes here..."
URL: https://x.com/example/status/123

Tweet 2:
Username: @another
Text: "Another actual tweet text..."
URL: https://x.com/another/status/456

Show me the real tweet content you can see in the Live Search results.`, topic)

	resp, err := f.client.Complete(ctx, completion.Request{
		Model:       f.cfg.Model,
		Messages:    []completion.Message{{Role: "user", Content: prompt}},
		Temperature: 0.0,
		MaxTokens:   4000,
		SearchDirectives: &completion.SearchDirectives{
			Mode:            "on",
			ReturnCitations: true,
			Sources:         []completion.SearchSource{{Type: "x"}},
		},
	})
	if err != nil {
		f.handleFetchError(err, topic)
		return nil
	}

	return parseDirectText(resp.Content())
}

// parseDirectText walks Username:/Text:/URL: line triples. A signal is kept
// only when all three fields landed.
func parseDirectText(content string) []Signal {
	var signals []Signal
	var current Signal

	flush := func() {
		if current.Text != "" && current.URL != "" {
			signals = append(signals, current)
		}
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Username:"):
			flush()
			username := strings.TrimSpace(strings.TrimPrefix(line, "Username:"))
			if !strings.HasPrefix(username, "@") {
				username = "@" + username
			}
			current = Signal{Handle: username}
		case strings.HasPrefix(line, "Text:"):
			text := strings.Trim(strings.TrimSpace(strings.TrimPrefix(line, "Text:")), `"`)
			text = CleanText(text)
			if len(text) > 10 {
				current.Text = truncateRunes(text, 360)
			}
		case strings.HasPrefix(line, "URL:") && strings.Contains(line, "x.com"):
			url := strings.TrimSpace(strings.TrimPrefix(line, "URL:"))
			if IsValidStatusURL(url) {
				current.URL = url
				current.Author = strings.TrimPrefix(current.Handle, "@")
			}
		}
	}
	flush()
	return signals
}

// fetchStrictCitations builds signals from citation URLs alone, then works
// backward to recover text for each one.
func (f *Fetcher) fetchStrictCitations(ctx context.Context, topic string) []Signal {
	resp, err := f.client.Complete(ctx, completion.Request{
		Model: f.cfg.Model,
		Messages: []completion.Message{
			{
				Role:    "system",
				Content: "You are a tweet content extractor. From Live Search citations, extract: 1) Real tweet URLs, 2) Complete original tweet text, 3) Usernames. NEVER return empty text fields - extract the full tweet content from Live Search results.",
			},
			{
				Role: "user",
				Content: fmt.Sprintf(`Search Twitter/X for: %s

CRITICAL: Extract real tweets from Live Search citations. For each tweet:
1. Include the EXACT URL from citations (must be x.com or twitter.com)
2. Include the ACTUAL tweet text content (do not summarize)
3. Include the handle/username

Return JSON with real tweet data:
{"tweets": [{"url": "exact citation URL", "handle": "@username", "text": "full tweet text here"}]}

Only include tweets that have real citation URLs. Include the actual tweet text.`, topic),
			},
		},
		Temperature: 0.0,
		MaxTokens:   5000,
		SearchDirectives: &completion.SearchDirectives{
			Mode:             "on",
			ReturnCitations:  true,
			Sources:          []completion.SearchSource{{Type: "x"}},
			MaxSearchResults: 20,
		},
	})
	if err != nil {
		f.handleFetchError(err, topic)
		return nil
	}

	citations := validCitations(resp)
	if len(citations) == 0 {
		f.logger.WithField("topic", topic).Warn("No real citations for strict fetch")
		return nil
	}
	if len(citations) > 10 {
		citations = citations[:10]
	}

	content := resp.Content()
	var signals []Signal
	for _, url := range citations {
		handle := HandleFromStatusURL(url)
		if handle == "" {
			continue
		}
		if f.verifier.Strict && !f.verifier.Verify(ctx, url) {
			f.metrics.SignalsDropped.WithLabelValues("unverified").Inc()
			continue
		}

		text := f.hydrator.Hydrate(ctx, url)
		if text == "" {
			text = ExtractSentenceWithUsername(content, handle)
		}
		if text == "" {
			text = ExtractTextNearHandle(content, handle, topic)
		}
		if text == "" {
			text = fmt.Sprintf(placeholderFmt, topic, handle)
		}

		signals = append(signals, Signal{
			Author: strings.TrimPrefix(handle, "@"),
			Handle: handle,
			Text:   text,
			URL:    url,
		})
	}
	return signals
}

// validCitations filters and dedups a response's citation URLs down to real
// status links.
func validCitations(resp *completion.Response) []string {
	seen := make(map[string]bool)
	var out []string
	for _, url := range resp.CitationURLs() {
		if seen[url] || !IsValidStatusURL(url) {
			continue
		}
		seen[url] = true
		out = append(out, url)
	}
	return out
}

type wireSignal struct {
	Author string `json:"author"`
	Handle string `json:"handle"`
	Text   string `json:"text"`
	URL    string `json:"url"`
}

type wirePayload struct {
	Signals []wireSignal `json:"tweets"`
	Summary string       `json:"summary"`
}

// SearchJSON is the schema-constrained search strategy with the full retry
// ladder: 429 backoff into a global cooldown, 400 reshaping through two
// fallback parameter forms, 5xx backoff, and citation salvage when parsing
// fails. It always returns a result; failures come back empty.
func (f *Fetcher) SearchJSON(ctx context.Context, topic string, phase Phase) FetchResult {
	empty := FetchResult{Topic: topic}
	if !f.client.Enabled() {
		return empty
	}

	req := f.jsonSearchRequest(topic, phase)

	for attempt := 0; attempt < maxRetries; attempt++ {
		if ctx.Err() != nil {
			return empty
		}
		resp, err := f.client.Complete(ctx, req)
		switch {
		case err == nil:
			if result, ok := f.parseJSONSearch(ctx, resp, topic); ok {
				return result
			}
			return empty
		case errors.Is(err, completion.ErrRateLimited):
			wait := time.Duration(60*(attempt+1)) * time.Second
			f.logger.WithFields(logging.Fields{"topic": topic, "attempt": attempt + 1}).Warn("Rate limited, backing off")
			f.sleep(ctx, wait)
			if attempt == maxRetries-1 {
				f.enterCooldown()
			}
		case errors.Is(err, completion.ErrBadRequest):
			if result, ok := f.badRequestFallback(ctx, req, topic, phase); ok {
				return result
			}
			f.sleep(ctx, 10*time.Second)
		case completion.Transient(err):
			f.logger.WithFields(logging.Fields{"topic": topic, "attempt": attempt + 1}).WithError(err).Warn("Server error, retrying")
			f.sleep(ctx, time.Duration(45*(attempt+1))*time.Second)
		default:
			f.logger.WithField("topic", topic).WithError(err).Error("Search request failed")
			if attempt < maxRetries-1 {
				f.sleep(ctx, time.Duration(10*(attempt+1))*time.Second)
			}
		}
	}

	return empty
}

func (f *Fetcher) jsonSearchRequest(topic string, phase Phase) completion.Request {
	directives := &completion.SearchDirectives{
		Mode:            "on",
		ReturnCitations: true,
		Sources:         []completion.SearchSource{{Type: "x"}},
	}
	if phase == PhaseWorldScan {
		today := f.now()
		directives.FromDate = today.AddDate(0, 0, -worldScanDays).Format("2006-01-02")
		directives.ToDate = today.Format("2006-01-02")
		directives.MaxSearchResults = maxSearchHits
	}

	return completion.Request{
		Model: f.cfg.Model,
		Messages: []completion.Message{
			{
				Role:    "system",
				Content: "You are a Twitter/X search analyst. When you perform Live Search, you see both tweet URLs and tweet content. Your task: For each tweet found in Live Search results, extract the complete tweet text that appears in the search results along with the URL and username. Always include the actual tweet content - never return empty text fields.",
			},
			{
				Role: "user",
				Content: fmt.Sprintf(`Search Twitter/X for: %s

Perform a Live Search for this topic and extract tweet information.

When you search, you'll see tweets in the results. For each tweet:

1. **Text**: Copy the EXACT tweet text as it appears in the search results
2. **Handle**: Extract the @username
3. **URL**: Use the exact citation URL

**CRITICAL**: The Live Search shows you the actual tweet content. Extract that content word-for-word into the "text" field. Do NOT leave text fields empty.

Return exactly this JSON structure:
{"tweets": [{"author": "username", "handle": "@username", "text": "tweet content", "url": "https://x.com/..."}], "summary": "brief topic overview (<=160 chars)"}

**Requirements**:
- Include the complete tweet text from Live Search results
- Use only citation URLs (x.com/username/status/id)
- Include 3-6 tweets with actual content
- Never return empty "text" fields`, topic),
			},
		},
		Temperature:      0.05,
		MaxTokens:        10000,
		SearchDirectives: directives,
		ResponseFormat: &completion.ResponseFormat{
			Type: "json_schema",
			JSONSchema: &completion.JSONSchema{
				Name: "x_citations_tweets",
				Schema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"tweets": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"author": map[string]any{"type": "string"},
									"handle": map[string]any{"type": "string"},
									"text":   map[string]any{"type": "string"},
									"url":    map[string]any{"type": "string"},
								},
								"required": []string{"handle", "text", "url"},
							},
						},
						"summary": map[string]any{"type": "string"},
					},
					"required": []string{"tweets"},
				},
			},
		},
	}
}

// parseJSONSearch turns a successful response into a result. ok=false means
// the caller should give up on this topic, not retry.
func (f *Fetcher) parseJSONSearch(ctx context.Context, resp *completion.Response, topic string) (FetchResult, bool) {
	content := StripMarkdownFences(resp.Content())
	if content == "" {
		f.logger.WithField("topic", topic).Warn("Empty search content")
		return FetchResult{Topic: topic}, true
	}

	citations := validCitations(resp)
	if f.cfg.RequireCitations && len(citations) == 0 {
		f.logger.WithField("topic", topic).Warn("No valid citations present, dropping to avoid hallucinations")
		f.metrics.SignalsDropped.WithLabelValues("no_citations").Inc()
		return FetchResult{Topic: topic, Summary: "no valid citations"}, true
	}

	cost := float64(resp.Usage.SourcesUsed) * costPerSource

	var payload wirePayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		if block, ok := ExtractJSONObject(content); ok {
			if err2 := json.Unmarshal([]byte(block), &payload); err2 != nil {
				payload.Signals = nil
			}
		}
		if len(payload.Signals) == 0 {
			if salvaged := SalvageSignals(resp.Raw, content); len(salvaged) > 0 {
				return FetchResult{Topic: topic, Signals: salvaged, Summary: "salvaged from citations", Cost: cost}, true
			}
			f.logger.WithField("topic", topic).WithError(err).Error("Search JSON parse failed")
			return FetchResult{Topic: topic}, true
		}
	}

	cleaned := f.cleanWireSignals(ctx, payload.Signals, resp.Content(), topic)

	// With zero usable signals but real citations in hand, build bare
	// signals from the citations themselves.
	if len(cleaned) == 0 && len(citations) > 0 {
		limit := citations
		if len(limit) > 6 {
			limit = limit[:6]
		}
		for _, url := range limit {
			handle := HandleFromStatusURL(url)
			if handle == "" {
				continue
			}
			if f.verifier.Strict && !f.verifier.Verify(ctx, url) {
				continue
			}
			text := f.hydrator.Hydrate(ctx, url)
			if text == "" {
				text = fmt.Sprintf(placeholderFmt, topic, handle)
			}
			cleaned = append(cleaned, Signal{
				Author: strings.TrimPrefix(handle, "@"),
				Handle: handle,
				Text:   text,
				URL:    url,
			})
		}
	}

	if len(cleaned) < 2 {
		f.logger.WithFields(logging.Fields{"topic": topic, "count": len(cleaned)}).Warn("Few valid signals, keeping batch as low-confidence")
	}

	return FetchResult{Topic: topic, Signals: cleaned, Summary: payload.Summary, Cost: cost}, true
}

// cleanWireSignals applies every acceptance gate to raw parsed signals:
// handle derivation, text recovery, meta-text and URL rejection, optional
// strict verification, and (handle, text prefix) dedup.
func (f *Fetcher) cleanWireSignals(ctx context.Context, raw []wireSignal, content, topic string) []Signal {
	type dedupKey struct{ handle, prefix string }
	seen := make(map[dedupKey]bool)
	var cleaned []Signal

	for _, w := range raw {
		handle := strings.TrimSpace(w.Handle)
		text := strings.TrimSpace(w.Text)
		url := strings.TrimSpace(w.URL)

		if handle == "" && url != "" {
			handle = HandleFromStatusURL(url)
		}
		if !strings.HasPrefix(handle, "@") {
			f.metrics.SignalsDropped.WithLabelValues("no_handle").Inc()
			continue
		}

		if text == "" {
			text = f.hydrator.Hydrate(ctx, url)
		}
		if len(text) > 360 {
			text = truncateRunes(text, 360)
		}
		if text == "" {
			text = ExtractTextNearHandle(content, handle, topic)
		}
		if text == "" {
			text = fmt.Sprintf(placeholderFmt, topic, handle)
		}
		if IsMetaText(text) {
			f.metrics.SignalsDropped.WithLabelValues("meta_text").Inc()
			continue
		}
		if !IsValidStatusURL(url) {
			f.metrics.SignalsDropped.WithLabelValues("bad_url").Inc()
			continue
		}
		if f.verifier.Strict && !f.verifier.Verify(ctx, url) {
			f.metrics.SignalsDropped.WithLabelValues("unverified").Inc()
			continue
		}

		key := dedupKey{handle, truncateRunes(text, 50)}
		if seen[key] {
			f.metrics.SignalsDropped.WithLabelValues("duplicate").Inc()
			continue
		}
		seen[key] = true

		author := w.Author
		if author == "" {
			author = strings.TrimPrefix(handle, "@")
		}
		cleaned = append(cleaned, Signal{Author: author, Handle: handle, Text: text, URL: url})
		f.metrics.SignalsRetained.Inc()
	}
	return cleaned
}

// badRequestFallback handles a 400 by reshaping the request: first with no
// search directives and the lenient fallback model, then with the date
// window nested inside the source descriptor.
func (f *Fetcher) badRequestFallback(ctx context.Context, req completion.Request, topic string, phase Phase) (FetchResult, bool) {
	f.logger.WithField("topic", topic).Warn("Bad request with search directives, retrying without them")

	plain := req
	plain.SearchDirectives = nil
	plain.ResponseFormat = nil
	if f.cfg.FallbackModel != "" {
		plain.Model = f.cfg.FallbackModel
	}
	if resp, err := f.client.Complete(ctx, plain); err == nil {
		if f.cfg.RequireCitations && len(validCitations(resp)) == 0 {
			if salvaged := SalvageSignals(resp.Raw, resp.Content()); len(salvaged) > 0 {
				return FetchResult{Topic: topic, Signals: salvaged, Summary: "citations salvaged"}, true
			}
		}
		content := StripMarkdownFences(resp.Content())
		var payload wirePayload
		if err := json.Unmarshal([]byte(content), &payload); err == nil && len(payload.Signals) > 0 {
			cleaned := f.cleanWireSignals(ctx, payload.Signals, resp.Content(), topic)
			if len(cleaned) > 0 {
				cost := float64(resp.Usage.SourcesUsed) * costPerSource
				return FetchResult{Topic: topic, Signals: cleaned, Summary: payload.Summary, Cost: cost}, true
			}
		}
		if salvaged := SalvageSignals(resp.Raw, content); len(salvaged) > 0 {
			return FetchResult{Topic: topic, Signals: salvaged, Summary: "salvaged from fallback"}, true
		}
	}

	// Alternate directive shape: some deployments want the window on the
	// source instead of the top level.
	alt := req
	alt.ResponseFormat = nil
	source := completion.SearchSource{Type: "x"}
	if phase == PhaseWorldScan {
		today := f.now()
		source.FromDate = today.AddDate(0, 0, -worldScanDays).Format("2006-01-02")
		source.ToDate = today.Format("2006-01-02")
		source.MaxSearchResults = maxSearchHits
	}
	alt.SearchDirectives = &completion.SearchDirectives{
		Mode:            "on",
		ReturnCitations: true,
		Sources:         []completion.SearchSource{source},
	}
	if resp, err := f.client.Complete(ctx, alt); err == nil {
		content := StripMarkdownFences(resp.Content())
		var payload wirePayload
		if err := json.Unmarshal([]byte(content), &payload); err == nil && len(payload.Signals) > 0 {
			cleaned := f.cleanWireSignals(ctx, payload.Signals, resp.Content(), topic)
			if len(cleaned) > 0 {
				return FetchResult{Topic: topic, Signals: cleaned, Summary: payload.Summary}, true
			}
		}
		if salvaged := SalvageSignals(resp.Raw, content); len(salvaged) > 0 {
			return FetchResult{Topic: topic, Signals: salvaged, Summary: "citations salvaged (alt)"}, true
		}
	}

	return FetchResult{}, false
}

// fetchCitationsOnly asks for bare citation URLs and hydrates them locally.
func (f *Fetcher) fetchCitationsOnly(ctx context.Context, topic string, phase Phase) []Signal {
	urls := f.citationsOnlyURLs(ctx, topic, phase)
	var signals []Signal
	for _, url := range urls {
		if len(signals) == 6 {
			break
		}
		handle := HandleFromStatusURL(url)
		if handle == "" || !IsValidStatusURL(url) {
			continue
		}
		text := f.hydrator.Hydrate(ctx, url)
		if text == "" {
			text = fmt.Sprintf(placeholderFmt, topic, handle)
		}
		signals = append(signals, Signal{
			Author: strings.TrimPrefix(handle, "@"),
			Handle: handle,
			Text:   text,
			URL:    url,
		})
	}
	return signals
}

// citationsOnlyURLs fetches candidate URLs through the x source, falling
// back to a generic web search filtered to X/Twitter hosts. Caps at 12.
func (f *Fetcher) citationsOnlyURLs(ctx context.Context, topic string, phase Phase) []string {
	directives := &completion.SearchDirectives{
		Mode:            "on",
		ReturnCitations: true,
		Sources:         []completion.SearchSource{{Type: "x"}},
	}
	if phase == PhaseWorldScan {
		today := f.now()
		directives.FromDate = today.AddDate(0, 0, -worldScanDays).Format("2006-01-02")
		directives.ToDate = today.Format("2006-01-02")
		directives.MaxSearchResults = maxSearchHits
	}

	req := completion.Request{
		Model: f.cfg.Model,
		Messages: []completion.Message{
			{Role: "system", Content: "Return JSON only. Do not invent."},
			{
				Role: "user",
				Content: fmt.Sprintf(`Find recent URLs strictly via Live Search citations for topic: %s

Return JSON:
{"citations": ["https://..."]}

Rules:
- Only include URLs that appear in citations
- Prefer x.com/twitter.com links if available
- If none found, return an empty citations array`, topic),
			},
		},
		Temperature:      0.0,
		MaxTokens:        4000,
		SearchDirectives: directives,
		ResponseFormat: &completion.ResponseFormat{
			Type: "json_schema",
			JSONSchema: &completion.JSONSchema{
				Name: "citations_only",
				Schema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"citations": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
					"required": []string{"citations"},
				},
			},
		},
	}

	var urls []string
	if resp, err := f.client.Complete(ctx, req); err == nil {
		var payload struct {
			Citations []string `json:"citations"`
		}
		content := strings.TrimSpace(resp.Content())
		if content != "" {
			_ = json.Unmarshal([]byte(StripMarkdownFences(content)), &payload)
		}
		urls = payload.Citations
		if len(urls) == 0 {
			urls = resp.CitationURLs()
		}
		if len(urls) == 0 {
			for _, s := range SalvageSignals(resp.Raw, content) {
				urls = append(urls, s.URL)
			}
		}
	}

	if len(urls) == 0 {
		web := req
		web.ResponseFormat = nil
		web.SearchDirectives = &completion.SearchDirectives{
			Mode:            "on",
			ReturnCitations: true,
			Sources:         []completion.SearchSource{{Type: "web"}},
		}
		if resp, err := f.client.Complete(ctx, web); err == nil {
			urls = resp.CitationURLs()
			for _, s := range SalvageSignals(resp.Raw, resp.Content()) {
				urls = append(urls, s.URL)
			}
		}
	}

	seen := make(map[string]bool)
	var uniq []string
	for _, u := range urls {
		if u == "" || seen[u] || !isStatusHost(u) {
			continue
		}
		seen[u] = true
		uniq = append(uniq, u)
		if len(uniq) == 12 {
			break
		}
	}
	return uniq
}

// handleFetchError applies rate-limit bookkeeping for the non-retrying
// strategies.
func (f *Fetcher) handleFetchError(err error, topic string) {
	switch {
	case errors.Is(err, completion.ErrDisabled):
	case errors.Is(err, completion.ErrRateLimited):
		f.enterCooldown()
	default:
		f.logger.WithField("topic", topic).WithError(err).Debug("Fetch strategy failed")
	}
}
