// Package completion is a thin client for a chat-completions service with
// live-search support. Responses keep the raw body so callers can salvage
// data out of malformed payloads.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrDisabled is returned when no API key is configured. Callers treat
	// this as a first-class mode, not a failure.
	ErrDisabled = errors.New("completion service disabled: no api key")

	// ErrRateLimited is returned on HTTP 429.
	ErrRateLimited = errors.New("completion service rate limited")

	// ErrBadRequest is returned on HTTP 400; callers retry with a reduced
	// parameter shape.
	ErrBadRequest = errors.New("completion service rejected request")
)

// StatusError carries a non-2xx status for transient-failure classification.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion service status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether err is worth retrying with backoff.
func Transient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	return false
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SearchSource selects a live-search backend ("x", "web"). The alternate
// parameter shape nests the date window here instead of at the top level.
type SearchSource struct {
	Type             string `json:"type"`
	FromDate         string `json:"from_date,omitempty"`
	ToDate           string `json:"to_date,omitempty"`
	MaxSearchResults int    `json:"max_search_results,omitempty"`
}

// SearchDirectives are the service's live-search parameters.
type SearchDirectives struct {
	Mode             string         `json:"mode"`
	ReturnCitations  bool           `json:"return_citations"`
	Sources          []SearchSource `json:"sources,omitempty"`
	FromDate         string         `json:"from_date,omitempty"`
	ToDate           string         `json:"to_date,omitempty"`
	MaxSearchResults int            `json:"max_search_results,omitempty"`
}

type JSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
}

type ResponseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

type Request struct {
	Model            string            `json:"model"`
	Messages         []Message         `json:"messages"`
	Temperature      float64           `json:"temperature"`
	MaxTokens        int               `json:"max_tokens,omitempty"`
	Stream           bool              `json:"stream"`
	SearchDirectives *SearchDirectives `json:"search_parameters,omitempty"`
	ResponseFormat   *ResponseFormat   `json:"response_format,omitempty"`
}

// Citation tolerates both the string and the {url|source|href} object shape
// upstream emits.
type Citation struct {
	URL string
}

func (c *Citation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.URL = s
		return nil
	}
	var obj struct {
		URL    string `json:"url"`
		Source string `json:"source"`
		Href   string `json:"href"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		// Unknown shape; keep the citation empty rather than failing the
		// whole response decode.
		c.URL = ""
		return nil
	}
	for _, u := range []string{obj.URL, obj.Source, obj.Href} {
		if u != "" {
			c.URL = u
			break
		}
	}
	return nil
}

type ResponseMessage struct {
	Content   string     `json:"content"`
	Citations []Citation `json:"citations"`
}

type Choice struct {
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

type Usage struct {
	SourcesUsed int `json:"num_sources_used"`
}

type Response struct {
	Choices   []Choice   `json:"choices"`
	Citations []Citation `json:"citations"`
	Usage     Usage      `json:"usage"`

	// Raw is the undecoded body, kept for citation salvage.
	Raw json.RawMessage `json:"-"`
}

// Content returns the first choice's message content, or "".
func (r *Response) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// CitationURLs returns every citation URL: top-level first, then per-choice.
// Both channels are real; upstream is inconsistent about which one it uses.
func (r *Response) CitationURLs() []string {
	if r == nil {
		return nil
	}
	urls := make([]string, 0, len(r.Citations))
	for _, c := range r.Citations {
		if c.URL != "" {
			urls = append(urls, c.URL)
		}
	}
	for _, ch := range r.Choices {
		for _, c := range ch.Message.Citations {
			if c.URL != "" {
				urls = append(urls, c.URL)
			}
		}
	}
	return urls
}

// Config configures the client.
type Config struct {
	APIKey  string
	APIURL  string
	Timeout time.Duration

	// Observe, when set, is called once per request with the status class
	// ("2xx", "4xx", "429", "5xx", "error").
	Observe func(statusClass string)
}

type Client struct {
	client  *http.Client
	apiKey  string
	apiURL  string
	observe func(string)
}

func NewClient(cfg Config) *Client {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.x.ai/v1"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 90 * time.Second
	}
	return &Client{
		client:  &http.Client{Timeout: timeout},
		apiKey:  cfg.APIKey,
		apiURL:  apiURL,
		observe: cfg.Observe,
	}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// Complete issues a chat-completions request. Non-2xx statuses map to
// classified errors; the response body is never partially decoded into a
// success value.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "Grokgates/2.0 (Beacon)")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.record("error")
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		c.record("error")
		return nil, fmt.Errorf("read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		c.record("2xx")
	case resp.StatusCode == http.StatusTooManyRequests:
		c.record("429")
		return nil, ErrRateLimited
	case resp.StatusCode == http.StatusBadRequest:
		c.record("4xx")
		return nil, fmt.Errorf("%w: %s", ErrBadRequest, truncate(string(body), 200))
	case resp.StatusCode >= 500:
		c.record("5xx")
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	default:
		c.record("4xx")
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	var decoded Response
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	decoded.Raw = json.RawMessage(body)
	return &decoded, nil
}

func (c *Client) record(statusClass string) {
	if c.observe != nil {
		c.observe(statusClass)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
