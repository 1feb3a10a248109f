package beacon

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var statusHosts = map[string]bool{
	"x.com":           true,
	"www.x.com":       true,
	"twitter.com":     true,
	"www.twitter.com": true,
}

// IsValidStatusURL reports whether raw is a real X/Twitter status URL of the
// form host/username/status/<digits>.
func IsValidStatusURL(raw string) bool {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	if !statusHosts[strings.ToLower(parsed.Host)] {
		return false
	}
	parts := splitPath(parsed.Path)
	return len(parts) >= 3 && parts[1] == "status" && allDigits(parts[2])
}

// HandleFromStatusURL derives "@username" from a status URL. Share links
// under /i/status/ have no username and map to "@unknown". Returns "" when
// no handle can be derived.
func HandleFromStatusURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	if !statusHosts[strings.ToLower(parsed.Host)] {
		return ""
	}
	parts := splitPath(parsed.Path)
	if len(parts) < 2 || parts[1] != "status" {
		return ""
	}
	user := parts[0]
	if user == "i" || user == "home" {
		return "@unknown"
	}
	if len(user) < 1 || len(user) > 30 {
		return ""
	}
	return "@" + user
}

// isStatusHost accepts any X/Twitter host, without requiring the status path.
// The citations-only strategy keeps non-status links out separately.
func isStatusHost(raw string) bool {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Host)
	return strings.Contains(host, "x.com") || strings.Contains(host, "twitter.com")
}

func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Verifier checks that a status URL is actually reachable and serves
// something that looks like a post. Verification is skipped entirely when
// both flags are off.
type Verifier struct {
	Enabled bool
	Strict  bool
	Client  *http.Client
}

func NewVerifier(enabled, strict bool) *Verifier {
	return &Verifier{
		Enabled: enabled,
		Strict:  strict,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

var verifyMarkers = []string{"twitter", "x.com", "tweet", "post", "@"}

var acceptedStatuses = map[int]bool{
	200: true, 301: true, 302: true, 303: true, 307: true, 308: true,
}

// Verify fetches the URL with a browser user agent and checks the first 5000
// bytes for post markers. Any network failure counts as unverified.
func (v *Verifier) Verify(ctx context.Context, rawURL string) bool {
	if !v.Enabled && !v.Strict {
		return true
	}
	if !IsValidStatusURL(rawURL) {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := v.Client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if !acceptedStatuses[resp.StatusCode] {
		return false
	}
	sample, err := io.ReadAll(io.LimitReader(resp.Body, 5000))
	if err != nil {
		return false
	}
	lowered := strings.ToLower(string(sample))
	for _, marker := range verifyMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
