package convo

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tertt-dev/grokgates/internal/store"
)

var (
	handleRef  = regexp.MustCompile(`@[A-Za-z0-9_]{1,30}`)
	tickerRef  = regexp.MustCompile(`\$[A-Za-z0-9]{2,12}`)
	hashtagRef = regexp.MustCompile(`#[A-Za-z0-9_]{2,30}`)
	multiSpace = regexp.MustCompile(`\s{2,}`)
)

// Scrubber strips handle, ticker and hashtag references that the latest
// beacon batch does not license, so agents cannot name entities the beacon
// never surfaced.
type Scrubber struct {
	store   *store.Store
	enabled bool
}

func NewScrubber(st *store.Store, enabled bool) *Scrubber {
	return &Scrubber{store: st, enabled: enabled}
}

// Scrub removes unlicensed references from text. With no beacon data every
// reference is unlicensed. Store failures leave the text untouched; the
// filter is a guard, not a gatekeeper.
func (s *Scrubber) Scrub(ctx context.Context, text string) string {
	if !s.enabled || text == "" {
		return text
	}

	allowed, err := s.allowedReferences(ctx)
	if err != nil {
		return text
	}

	repl := func(token string) string {
		if allowed[strings.ToLower(token)] {
			return token
		}
		return ""
	}
	out := handleRef.ReplaceAllStringFunc(text, repl)
	out = tickerRef.ReplaceAllStringFunc(out, repl)
	out = hashtagRef.ReplaceAllStringFunc(out, repl)
	return strings.TrimSpace(multiSpace.ReplaceAllString(out, " "))
}

// allowedReferences collects handles, authors and topics from the newest
// beacon batch.
func (s *Scrubber) allowedReferences(ctx context.Context) (map[string]bool, error) {
	raws, err := s.store.BeaconFeed(ctx, 1)
	if err != nil {
		return nil, err
	}
	allowed := make(map[string]bool)
	if len(raws) == 0 {
		return allowed, nil
	}

	var batch struct {
		Tweets []struct {
			Handle string `json:"handle"`
		} `json:"tweets"`
		Posts []struct {
			Author string `json:"author"`
		} `json:"posts"`
		Topics []string `json:"topics"`
	}
	if err := json.Unmarshal(raws[0], &batch); err != nil {
		return allowed, nil
	}
	for _, t := range batch.Tweets {
		if t.Handle != "" {
			allowed[strings.ToLower(t.Handle)] = true
		}
	}
	for _, p := range batch.Posts {
		if p.Author != "" {
			allowed["@"+strings.ToLower(p.Author)] = true
		}
	}
	for _, topic := range batch.Topics {
		allowed[strings.ToLower(topic)] = true
	}
	return allowed, nil
}
