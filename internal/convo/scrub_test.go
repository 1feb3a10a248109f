package convo

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/tertt-dev/grokgates/internal/store"
)

func newScrubStore(t *testing.T) *store.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return store.NewStore(client, logger)
}

func TestScrubRemovesUnlicensedReferences(t *testing.T) {
	st := newScrubStore(t)
	ctx := context.Background()

	batch := map[string]any{
		"tweets": []map[string]string{{"handle": "@alice"}},
		"posts":  []map[string]string{{"author": "bob"}},
		"topics": []string{"Bonk"},
	}
	if err := st.PushBeaconBatch(ctx, batch); err != nil {
		t.Fatalf("seed batch: %v", err)
	}

	s := NewScrubber(st, true)
	// Topics license plain words, not hashtag forms, so #bonk goes too.
	got := s.Scrub(ctx, "I saw @alice and @mallory discussing $SCAM and #bonk today")
	want := "I saw @alice and discussing and today"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	// @bob is licensed through the posts projection.
	if got := s.Scrub(ctx, "@bob called it"); got != "@bob called it" {
		t.Fatalf("posts author should be licensed, got %q", got)
	}
}

func TestScrubWithoutBeaconStripsEverything(t *testing.T) {
	s := NewScrubber(newScrubStore(t), true)
	got := s.Scrub(context.Background(), "watch $WIF and @whale_alert")
	if got != "watch and" {
		t.Fatalf("got %q", got)
	}
}

func TestScrubDisabledPassesThrough(t *testing.T) {
	s := NewScrubber(newScrubStore(t), false)
	in := "@anyone can say $ANYTHING"
	if got := s.Scrub(context.Background(), in); got != in {
		t.Fatalf("disabled scrubber changed text: %q", got)
	}
}
