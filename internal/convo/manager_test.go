package convo

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/tertt-dev/grokgates/internal/completion"
	"github.com/tertt-dev/grokgates/internal/store"
)

// stubRand pins Intn to its minimum and Float64 to a fixed value so
// threshold rolls and chaos overrides are deterministic.
type stubRand struct{ f float64 }

func (stubRand) Intn(n int) int     { return 0 }
func (s stubRand) Float64() float64 { return s.f }

type oracleScript struct {
	verdict    Verdict
	statusCode int
}

// serve answers all three oracle request kinds: end checks get the scripted
// verdict, topic and naming requests get canned strings.
func (s *oracleScript) serve(w http.ResponseWriter, r *http.Request) {
	if s.statusCode != 0 && s.statusCode != http.StatusOK {
		w.WriteHeader(s.statusCode)
		return
	}
	var req completion.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	prompt := req.Messages[len(req.Messages)-1].Content

	content := ""
	switch {
	case strings.Contains(prompt, "thread name"):
		content = "Scripted Thread"
	case strings.Contains(prompt, "conversation starter"):
		content = "What changed in the feed overnight?"
	default:
		raw, _ := json.Marshal(s.verdict)
		content = string(raw)
	}

	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestManager(t *testing.T, script *oracleScript, rng RandomSource) (*Manager, *store.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	srv := httptest.NewServer(http.HandlerFunc(script.serve))
	t.Cleanup(srv.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	st := store.NewStore(client, logger)
	cc := completion.NewClient(completion.Config{APIKey: "test", APIURL: srv.URL, Timeout: 5 * time.Second})
	oracle := NewOracle(cc, "model-a", "model-critic", rng, logger)
	return NewManager(st, oracle, NewScrubber(st, false), nil, rng, logger), st
}

func TestStartNewRollsThresholdsAndSeedsThread(t *testing.T) {
	m, st := newTestManager(t, &oracleScript{}, stubRand{})
	ctx := context.Background()

	conv, err := m.StartNew(ctx)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !strings.HasPrefix(conv.ID, "CONV_") {
		t.Fatalf("unexpected ID %q", conv.ID)
	}
	// stubRand pins every roll to the range minimum.
	if conv.SoftLimitStart != 25 || conv.EscalateStart != 40 || conv.HardLimit != 65 || conv.CheckInterval != 4 {
		t.Fatalf("unexpected thresholds: %+v", conv)
	}
	if conv.StarterTopic != "What changed in the feed overnight?" {
		t.Fatalf("topic = %q", conv.StarterTopic)
	}

	msgs, err := st.ThreadMessages(ctx, conv.ID, 0)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("want 1 seeded message, got %d (err %v)", len(msgs), err)
	}
	if msgs[0].Agent != "SYSTEM" || !strings.Contains(msgs[0].Content, "[New conversation started:") {
		t.Fatalf("unexpected starter message: %+v", msgs[0])
	}

	loaded, err := m.Current(ctx)
	if err != nil || loaded.MessageCount != 1 {
		t.Fatalf("current thread not tracked: %+v err=%v", loaded, err)
	}
}

func seedThread(t *testing.T, st *store.Store, conv store.Conversation) {
	t.Helper()
	ctx := context.Background()
	if err := st.SaveConversation(ctx, conv); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	if err := st.SetCurrentConversationID(ctx, conv.ID); err != nil {
		t.Fatalf("set pointer: %v", err)
	}
}

func TestOracleEndsThreadBetweenSoftAndEscalate(t *testing.T) {
	script := &oracleScript{verdict: Verdict{ShouldEnd: true, Reason: "natural close", Chaos: 0}}
	m, st := newTestManager(t, script, stubRand{f: 0.9})
	ctx := context.Background()

	seedThread(t, st, store.Conversation{
		ID: "CONV_test", Status: "active", CreatedAt: time.Now(),
		MessageCount: 3, SoftLimitStart: 4, EscalateStart: 40, HardLimit: 65, CheckInterval: 4,
	})

	ended, err := m.AddMessage(ctx, "OBSERVER", "the loop closes")
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if !ended {
		t.Fatalf("thread should have ended on oracle verdict")
	}

	conv, err := st.GetConversation(ctx, "CONV_test")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if conv.Status != "completed" || conv.EndReason != "natural close" || conv.ThreadName != "Scripted Thread" {
		t.Fatalf("unexpected end state: %+v", conv)
	}
	if id, _ := st.CurrentConversationID(ctx); id != "" {
		t.Fatalf("pointer should be cleared, got %q", id)
	}
}

func TestHardLimitOverridesOracle(t *testing.T) {
	script := &oracleScript{verdict: Verdict{ShouldEnd: false, Reason: "keep going", Chaos: 0}}
	m, st := newTestManager(t, script, stubRand{f: 0.9})
	ctx := context.Background()

	seedThread(t, st, store.Conversation{
		ID: "CONV_hard", Status: "active", CreatedAt: time.Now(),
		MessageCount: 7, SoftLimitStart: 4, EscalateStart: 6, HardLimit: 8, CheckInterval: 4,
	})

	ended, err := m.AddMessage(ctx, "EGO", "one more")
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if !ended {
		t.Fatalf("hard limit should end the thread despite the oracle")
	}
	conv, _ := st.GetConversation(ctx, "CONV_hard")
	if !strings.Contains(conv.EndReason, "Hard limit") {
		t.Fatalf("end reason = %q", conv.EndReason)
	}
}

func TestChaosOverrideFlipsVerdict(t *testing.T) {
	// chaos 1.0 gives a 0.2 flip probability; Float64 of 0.1 triggers it.
	script := &oracleScript{verdict: Verdict{ShouldEnd: false, Reason: "stable", Chaos: 1.0}}
	m, st := newTestManager(t, script, stubRand{f: 0.1})
	ctx := context.Background()

	seedThread(t, st, store.Conversation{
		ID: "CONV_chaos", Status: "active", CreatedAt: time.Now(),
		MessageCount: 3, SoftLimitStart: 4, EscalateStart: 40, HardLimit: 65, CheckInterval: 4,
	})

	ended, err := m.AddMessage(ctx, "EGO", "static")
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if !ended {
		t.Fatalf("chaos override should have flipped the verdict")
	}
	conv, _ := st.GetConversation(ctx, "CONV_chaos")
	if !strings.HasPrefix(conv.EndReason, "CHAOS OVERRIDE:") {
		t.Fatalf("end reason = %q", conv.EndReason)
	}
}

func TestOracleFailureOnlyEndsNearHardLimit(t *testing.T) {
	script := &oracleScript{statusCode: http.StatusInternalServerError}
	m, st := newTestManager(t, script, stubRand{f: 0.9})
	ctx := context.Background()

	// Below the safety floor the failure is tolerated.
	seedThread(t, st, store.Conversation{
		ID: "CONV_safe", Status: "active", CreatedAt: time.Now(),
		MessageCount: 9, SoftLimitStart: 4, EscalateStart: 6, HardLimit: 80, CheckInterval: 2,
	})
	ended, err := m.AddMessage(ctx, "OBSERVER", "still here")
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if ended {
		t.Fatalf("oracle failure below safety floor should not end the thread")
	}

	// At max(hard-10, 50) the thread ends without the oracle. The thread
	// namer also fails here, so the fallback pool is used.
	seedThread(t, st, store.Conversation{
		ID: "CONV_floor", Status: "active", CreatedAt: time.Now(),
		MessageCount: 69, SoftLimitStart: 4, EscalateStart: 6, HardLimit: 80, CheckInterval: 2,
	})
	ended, err = m.AddMessage(ctx, "OBSERVER", "message seventy")
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if !ended {
		t.Fatalf("safety floor should force the end")
	}
	conv, _ := st.GetConversation(ctx, "CONV_floor")
	if conv.Status != "completed" {
		t.Fatalf("status = %q", conv.Status)
	}
	found := false
	for _, name := range fallbackThreadNames {
		if conv.ThreadName == name {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("thread name %q not from fallback pool", conv.ThreadName)
	}
}

func TestAddMessageAfterEndOpensNewThread(t *testing.T) {
	m, _ := newTestManager(t, &oracleScript{}, stubRand{})
	ctx := context.Background()

	// Advance the clock per call so consecutive threads get distinct IDs.
	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		base = base.Add(time.Second)
		return base
	}

	first, err := m.StartNew(ctx)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := m.EndCurrent(ctx, "manual", "wrapping up"); err != nil {
		t.Fatalf("end failed: %v", err)
	}

	ended, err := m.AddMessage(ctx, "EGO", "picking the thread back up")
	if err != nil {
		t.Fatalf("add after end failed: %v", err)
	}
	if ended {
		t.Fatalf("fresh thread should not end on its first message")
	}

	cur, err := m.Current(ctx)
	if err != nil {
		t.Fatalf("no active thread after add: %v", err)
	}
	if cur.ID == first.ID {
		t.Fatalf("message landed in the ended thread %q", cur.ID)
	}
	// SYSTEM starter plus the agent message.
	if cur.MessageCount != 2 {
		t.Fatalf("message count = %d", cur.MessageCount)
	}
}

func TestThresholdRollsAreSeededAndInRange(t *testing.T) {
	script := &oracleScript{}
	m1, _ := newTestManager(t, script, rand.New(rand.NewSource(42)))
	m2, _ := newTestManager(t, script, rand.New(rand.NewSource(42)))
	ctx := context.Background()

	a, err := m1.StartNew(ctx)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	b, err := m2.StartNew(ctx)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Same seed, same rolls.
	if a.SoftLimitStart != b.SoftLimitStart || a.EscalateStart != b.EscalateStart ||
		a.HardLimit != b.HardLimit || a.CheckInterval != b.CheckInterval {
		t.Fatalf("same seed produced different thresholds: %+v vs %+v", a, b)
	}

	if a.SoftLimitStart < 25 || a.SoftLimitStart > 45 {
		t.Fatalf("soft limit out of range: %d", a.SoftLimitStart)
	}
	if a.EscalateStart < a.SoftLimitStart+15 || a.EscalateStart > a.SoftLimitStart+25 {
		t.Fatalf("escalate start out of range: %d (soft %d)", a.EscalateStart, a.SoftLimitStart)
	}
	if a.HardLimit < 65 || a.HardLimit > 95 {
		t.Fatalf("hard limit out of range: %d", a.HardLimit)
	}
	if a.CheckInterval < 4 || a.CheckInterval > 7 {
		t.Fatalf("check interval out of range: %d", a.CheckInterval)
	}
}

func TestAddSystemMessageWithoutThreadIsNoop(t *testing.T) {
	m, _ := newTestManager(t, &oracleScript{}, stubRand{})
	if err := m.AddSystemMessage(context.Background(), "[BEACON] WORLD_SCAN"); err != nil {
		t.Fatalf("expected silent no-op, got %v", err)
	}
}

func TestEnsureActiveReusesExistingThread(t *testing.T) {
	m, st := newTestManager(t, &oracleScript{}, stubRand{})
	ctx := context.Background()

	seedThread(t, st, store.Conversation{
		ID: "CONV_live", Status: "active", CreatedAt: time.Now(), MessageCount: 2,
		SoftLimitStart: 25, EscalateStart: 40, HardLimit: 65, CheckInterval: 4,
	})

	conv, err := m.EnsureActive(ctx)
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if conv.ID != "CONV_live" {
		t.Fatalf("should reuse live thread, got %q", conv.ID)
	}
}
