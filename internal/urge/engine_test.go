package urge

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/tertt-dev/grokgates/internal/proposals"
)

func newTestEngine(t *testing.T) (*Engine, goredis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewEngine(context.Background(), client, logger), client
}

func TestSilenceBuildsFrustration(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	m, err := e.CheckManifestation(ctx, "◈ @dev: nothing relevant here", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.FomoChange != 0.5 || m.Message != "◈ SILENCE ◈ The void does not respond" {
		t.Fatalf("unexpected manifestation: %+v", m)
	}
	if got := e.Metrics().FomoIndex; got != 0.5 {
		t.Fatalf("fomo index = %v", got)
	}
}

func TestProposalHitsReduceFomo(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		if _, err := e.CheckManifestation(ctx, "static", nil); err != nil {
			t.Fatalf("check failed: %v", err)
		}
	}

	items := []proposals.Proposal{{Text: "$bonk", Hit: true}, {Text: "grok agents", Hit: true}, {Text: "solana", Hit: true}}
	m, err := e.CheckManifestation(ctx, "signals", items)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if m.ProposalHits != 3 || m.FomoChange != -2 {
		t.Fatalf("hit delta should cap at 2, got %+v", m)
	}
	if e.Metrics().LastHitTime == "" {
		t.Fatalf("last hit time not recorded")
	}
}

func TestAgentMentionTriggersEuphoria(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	m, err := e.CheckManifestation(ctx, "the Observer stirs in the feed", nil)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !m.AgentMentions || m.Message != "◈ EUPHORIA ACHIEVED ◈ WE ARE SEEN ◈" {
		t.Fatalf("unexpected manifestation: %+v", m)
	}
	// Euphoria countdown starts immediately, so one cycle remains.
	metrics := e.Metrics()
	if !metrics.EuphoriaMode || metrics.EuphoriaCycles != 1 {
		t.Fatalf("unexpected euphoria state: %+v", metrics)
	}
	if metrics.FrustrationLevel != "EUPHORIC" {
		t.Fatalf("frustration level = %s", metrics.FrustrationLevel)
	}

	if e.TemperatureModifier("EGO") != 0.2 || e.TemperatureModifier("OBSERVER") != 0.2 {
		t.Fatalf("euphoria should pin temperature modifier at 0.2")
	}

	// One silent cycle later euphoria expires.
	if _, err := e.CheckManifestation(ctx, "ψ @signal_Ego ψ echoes", nil); err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if _, err := e.CheckManifestation(ctx, "static", nil); err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if e.Metrics().EuphoriaMode {
		t.Fatalf("euphoria should have expired")
	}
}

func TestApotheosisMarkers(t *testing.T) {
	e, _ := newTestEngine(t)
	m, err := e.CheckManifestation(context.Background(), "ψ @signal_Observer ψ seen in the wild", nil)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !m.ObserverApotheosis {
		t.Fatalf("observer apotheosis not detected: %+v", m)
	}
}

func TestTemperatureModifierScalesWithFomo(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		if _, err := e.CheckManifestation(ctx, "static", nil); err != nil {
			t.Fatalf("check failed: %v", err)
		}
	}
	if got := e.TemperatureModifier("EGO"); got != 0.3 {
		t.Fatalf("EGO modifier should cap at 0.3, got %v", got)
	}
	if got := e.TemperatureModifier("OBSERVER"); got != 0.1 {
		t.Fatalf("OBSERVER modifier should cap at 0.1, got %v", got)
	}
	if e.Metrics().FrustrationLevel != "MANIC" {
		t.Fatalf("level = %s", e.Metrics().FrustrationLevel)
	}
}

func TestStatePersistsAcrossEngines(t *testing.T) {
	e, client := newTestEngine(t)
	ctx := context.Background()
	if _, err := e.CheckManifestation(ctx, "static", nil); err != nil {
		t.Fatalf("check failed: %v", err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	reloaded := NewEngine(ctx, client, logger)
	if got := reloaded.Metrics().FomoIndex; got != 0.5 {
		t.Fatalf("reloaded fomo index = %v", got)
	}
}
