package beacon

import (
	"context"
	"testing"
)

func TestIsValidStatusURL(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"https://x.com/alice/status/123456", true},
		{"https://www.x.com/alice/status/123456", true},
		{"https://twitter.com/bob/status/9", true},
		{"https://www.twitter.com/bob/status/9", true},
		{"https://x.com/i/status/123", true},
		{"https://x.com/alice/status/abc", false},
		{"https://x.com/alice/statuses/123", false},
		{"https://x.com/alice", false},
		{"https://example.com/alice/status/123", false},
		{"not a url at all ://", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsValidStatusURL(tc.url); got != tc.want {
			t.Errorf("IsValidStatusURL(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}

func TestHandleFromStatusURL(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://x.com/alice/status/123", "@alice"},
		{"https://twitter.com/Bob_42/status/9", "@Bob_42"},
		{"https://x.com/i/status/123", "@unknown"},
		{"https://x.com/home/status/123", "@unknown"},
		{"https://x.com/this_username_is_way_too_long_to_be_real/status/1", ""},
		{"https://x.com/alice/likes/123", ""},
		{"https://example.com/alice/status/123", ""},
	}
	for _, tc := range cases {
		if got := HandleFromStatusURL(tc.url); got != tc.want {
			t.Errorf("HandleFromStatusURL(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}

func TestVerifierSkipsWhenDisabled(t *testing.T) {
	v := NewVerifier(false, false)
	if !v.Verify(context.Background(), "https://definitely.invalid/nothing") {
		t.Fatalf("disabled verifier should accept everything")
	}
}

func TestVerifierRejectsNonStatusURLs(t *testing.T) {
	v := NewVerifier(true, true)
	if v.Verify(context.Background(), "https://example.com/alice/status/123") {
		t.Fatalf("non-status host should never verify")
	}
}
