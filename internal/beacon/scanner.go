package beacon

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tertt-dev/grokgates/internal/proposals"
	"github.com/tertt-dev/grokgates/internal/store"
	"github.com/tertt-dev/grokgates/internal/urge"
	"github.com/tertt-dev/grokgates/pkg/logging"
	"github.com/tertt-dev/grokgates/pkg/monitoring"
)

// RandomSource is the randomness the scanner consumes. *math/rand.Rand
// satisfies it; tests seed their own.
type RandomSource interface {
	Intn(n int) int
	Shuffle(n int, swap func(i, j int))
}

// ConversationNotifier receives the system line posted after each stored
// batch.
type ConversationNotifier interface {
	AddSystemMessage(ctx context.Context, content string) error
}

// ScannerConfig carries topic pools and cadence.
type ScannerConfig struct {
	WorldScanTopics []string
	WildcardTopics  []string
	FallbackTopics  []string
	MaxProposals    int
	InterTopicDelay time.Duration
	ProposalWindow  time.Duration
}

// Scanner drives the half-hour scan cycle: world scans in the first half of
// each hour, self-directed proposal scans in the second.
type Scanner struct {
	fetcher *Fetcher
	store   *store.Store
	urge    *urge.Engine
	notify  ConversationNotifier
	cfg     ScannerConfig
	logger  logging.Logger
	metrics *monitoring.MetricsCollector
	rng     RandomSource

	sleep func(ctx context.Context, d time.Duration)
	now   func() time.Time

	lastSlot string
}

func NewScanner(fetcher *Fetcher, st *store.Store, urgeEngine *urge.Engine, notify ConversationNotifier, cfg ScannerConfig, logger logging.Logger, metrics *monitoring.MetricsCollector, rng RandomSource) *Scanner {
	if cfg.MaxProposals <= 0 {
		cfg.MaxProposals = 5
	}
	if cfg.InterTopicDelay == 0 {
		cfg.InterTopicDelay = 10 * time.Second
	}
	if cfg.ProposalWindow == 0 {
		cfg.ProposalWindow = 30 * time.Minute
	}
	return &Scanner{
		fetcher: fetcher,
		store:   st,
		urge:    urgeEngine,
		notify:  notify,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		rng:     rng,
		sleep:   sleepCtx,
		now:     time.Now,
	}
}

// Run polls every 20 seconds and fires at most one scan per half-hour slot.
// It returns when ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if s.fetcher.RateLimited() {
			s.sleep(ctx, time.Minute)
			continue
		}

		if err := s.tick(ctx); err != nil {
			s.logger.WithError(err).Error("Beacon cycle error")
			s.sleep(ctx, 30*time.Second)
			continue
		}
		s.sleep(ctx, 20*time.Second)
	}
}

// tick runs the slot's scan when the slot has not been served yet.
func (s *Scanner) tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scan panicked: %v", r)
		}
	}()

	now := s.now()
	slot := "0"
	if now.Minute() >= 30 {
		slot = "1"
	}
	slotID := now.Format("2006010215") + "-" + slot
	if slotID == s.lastSlot {
		return nil
	}

	if slot == "0" {
		s.WorldScan(ctx)
	} else {
		s.TransitionToSelfDirected(ctx)
		s.SelfDirectedScan(ctx)
	}
	s.lastSlot = slotID
	return nil
}

// WorldScan samples topics from the fixed pool, swaps the last for a
// wildcard, and fetches each. When nothing at all surfaces it walks the
// fallback list until the first hit.
func (s *Scanner) WorldScan(ctx context.Context) {
	if !s.fetcher.client.Enabled() {
		s.logger.Warn("Beacon disabled: no completion key, skipping world scan")
		return
	}
	s.logger.Info("◈ WORLD SCAN INITIATED ◈")

	topics := s.sampleTopics()

	var signals []Signal
	var groups []TopicGroup
	totalCost := 0.0

	for i, topic := range topics {
		if ctx.Err() != nil {
			return
		}
		if i > 0 {
			s.sleep(ctx, s.cfg.InterTopicDelay)
		}
		result := s.fetcher.FetchTopic(ctx, topic, PhaseWorldScan)
		if len(result.Signals) == 0 {
			s.logger.WithField("topic", topic).Warn("No signals found")
			continue
		}
		signals = append(signals, result.Signals...)
		groups = append(groups, TopicGroup{Topic: topic, Signals: result.Signals})
		totalCost += result.Cost
		s.logger.WithFields(logging.Fields{"topic": topic, "count": len(result.Signals)}).Info("Topic signals collected")
	}

	if len(signals) == 0 {
		for _, fallback := range s.cfg.FallbackTopics {
			if ctx.Err() != nil {
				return
			}
			result := s.fetcher.SearchJSON(ctx, fallback, PhaseWorldScan)
			if len(result.Signals) > 0 {
				signals = append(signals, result.Signals...)
				groups = append(groups, TopicGroup{Topic: fallback, Signals: result.Signals})
				totalCost += result.Cost
				s.logger.WithFields(logging.Fields{"topic": fallback, "count": len(result.Signals)}).Info("Fallback topic hit")
				break
			}
		}
	}

	if len(signals) == 0 {
		s.logger.Warn("◈ WORLD SCAN: No signals intercepted ◈")
		return
	}

	s.storeBatch(ctx, signals, PhaseWorldScan, totalCost, groups)
	s.logger.WithField("count", len(signals)).Info("◈ WORLD SCAN COMPLETE ◈")
}

// sampleTopics picks 5 distinct pool topics and replaces the last with a
// wildcard for coverage.
func (s *Scanner) sampleTopics() []string {
	pool := append([]string(nil), s.cfg.WorldScanTopics...)
	s.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	n := 5
	if len(pool) < n {
		n = len(pool)
	}
	topics := pool[:n]
	if len(s.cfg.WildcardTopics) > 0 && len(topics) > 0 {
		topics[len(topics)-1] = s.cfg.WildcardTopics[s.rng.Intn(len(s.cfg.WildcardTopics))]
	}
	return topics
}

// TransitionToSelfDirected harvests proposals from the active conversation
// window and stashes the winners for the scan that follows.
func (s *Scanner) TransitionToSelfDirected(ctx context.Context) {
	s.logger.Info("◈ EXTRACTING AGENT PROPOSALS ◈")

	convID, err := s.store.CurrentConversationID(ctx)
	if err != nil || convID == "" {
		s.logger.Warn("No active conversation for proposal extraction")
		return
	}
	msgs, err := s.store.ThreadMessages(ctx, convID, 0)
	if err != nil {
		s.logger.WithError(err).Error("Failed to load conversation messages")
		return
	}

	adaptiveKeys, _ := s.store.AdaptiveKeywords(ctx)
	adaptiveBans, _ := s.store.AdaptiveBanPhrases(ctx)
	extractor := proposals.NewExtractor(adaptiveKeys, adaptiveBans, s.cfg.MaxProposals)
	extractor.Now = s.now
	extractor.OnReject = func(reason string) {
		s.metrics.ProposalsRejected.WithLabelValues(reason).Inc()
	}

	history, _ := s.store.ProposalHistory(ctx, 200)

	source := make([]proposals.SourceMessage, len(msgs))
	for i, m := range msgs {
		source[i] = proposals.SourceMessage{Agent: m.Agent, Content: m.Content, Timestamp: m.Timestamp}
	}

	top, feedback := extractor.Extract(source, s.cfg.ProposalWindow, history)
	if len(feedback.Keywords) > 0 {
		if err := s.store.MergeAdaptiveKeywords(ctx, feedback.Keywords); err != nil {
			s.logger.WithError(err).Warn("Failed to persist adaptive keywords")
		}
	}
	if len(feedback.BanPhrases) > 0 {
		if err := s.store.MergeAdaptiveBanPhrases(ctx, feedback.BanPhrases); err != nil {
			s.logger.WithError(err).Warn("Failed to persist adaptive ban phrases")
		}
	}

	if len(top) == 0 {
		s.logger.Warn("No proposals extracted from conversation")
		return
	}
	for _, p := range top {
		s.metrics.ProposalsAccepted.Inc()
		s.logger.WithFields(logging.Fields{"agent": p.Agent, "text": p.Text}).Info("Proposal accepted")
	}
	if err := s.store.SetActiveProposals(ctx, top); err != nil {
		s.logger.WithError(err).Error("Failed to stash active proposals")
	}
}

// SelfDirectedScan searches for the stashed proposals, most interesting
// first, suppressing near-duplicate texts.
func (s *Scanner) SelfDirectedScan(ctx context.Context) {
	if !s.fetcher.client.Enabled() {
		s.logger.Warn("Beacon disabled: no completion key, skipping self-directed scan")
		return
	}
	s.logger.Info("◈ SELF-DIRECTED SCAN INITIATED ◈")

	active, err := s.store.ActiveProposals(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to load active proposals")
		return
	}
	if len(active) == 0 {
		s.logger.Warn("No proposals found for self-directed scan")
		return
	}

	sort.SliceStable(active, func(i, j int) bool {
		si, sj := proposals.InterestScore(active[i].Text), proposals.InterestScore(active[j].Text)
		if si != sj {
			return si > sj
		}
		return active[i].Timestamp.After(active[j].Timestamp)
	})

	var signals []Signal
	var groups []TopicGroup
	totalCost := 0.0

	wide := active
	if limit := s.cfg.MaxProposals * 2; len(wide) > limit {
		wide = wide[:limit]
	}

	seenTopics := make(map[string]bool)
	for i := range wide {
		p := &wide[i]
		if ctx.Err() != nil {
			return
		}
		baseKey := strings.NewReplacer("#", "", "$", "").Replace(strings.ToLower(strings.TrimSpace(p.Text)))
		if nearDuplicateTopic(seenTopics, baseKey) {
			continue
		}
		seenTopics[baseKey] = true

		result := s.fetcher.FetchTopic(ctx, p.Text, PhaseSelfDirected)
		if len(result.Signals) == 0 {
			s.logger.WithField("proposal", p.Text).Warn("No signals for proposal")
			continue
		}
		signals = append(signals, result.Signals...)
		groups = append(groups, TopicGroup{Topic: p.Text, Signals: result.Signals})
		totalCost += result.Cost
	}

	var formatted string
	if len(signals) > 0 {
		formatted = FormatDisplay(signals, PhaseSelfDirected, groups, "")
		if hits := proposals.MarkHits(active, formatted); hits > 0 {
			s.logger.WithField("hits", hits).Info("Proposals manifested in the batch")
		}
	}

	for i := range active {
		active[i].Phase = string(PhaseSelfDirected)
	}
	if err := s.store.SaveProposalHistory(ctx, active); err != nil {
		s.logger.WithError(err).Warn("Failed to save proposal history")
	}

	if len(signals) == 0 {
		s.logger.Warn("◈ SELF-DIRECTED: No signals detected ◈")
		return
	}

	s.storeBatch(ctx, signals, PhaseSelfDirected, totalCost, groups)

	if _, err := s.urge.CheckManifestation(ctx, formatted, active); err != nil {
		s.logger.WithError(err).Debug("Urge check failed")
	}

	s.logger.WithField("count", len(signals)).Info("◈ SELF-DIRECTED COMPLETE ◈")
}

// nearDuplicateTopic applies substring containment in both directions.
func nearDuplicateTopic(seen map[string]bool, baseKey string) bool {
	for k := range seen {
		if strings.Contains(k, baseKey) || strings.Contains(baseKey, k) {
			return true
		}
	}
	return false
}

// storeBatch assembles and persists a batch, then announces it on the board
// and in the active conversation.
func (s *Scanner) storeBatch(ctx context.Context, signals []Signal, phase Phase, cost float64, groups []TopicGroup) {
	now := s.now()
	timeStr := now.Format("15:04")

	posts := make([]Post, len(signals))
	for i, sig := range signals {
		author := strings.TrimPrefix(sig.Handle, "@")
		if author == "" {
			author = orUnknown(sig.Author)
		}
		posts[i] = Post{Type: "citation", Author: author, Text: sig.Text, URL: sig.URL}
	}

	var topics []string
	samples := make(map[string][]string)
	for _, g := range groups {
		if g.Topic == "" {
			continue
		}
		topics = append(topics, g.Topic)
		var texts []string
		limit := g.Signals
		if len(limit) > 2 {
			limit = limit[:2]
		}
		for _, sig := range limit {
			if sig.Text != "" {
				texts = append(texts, truncateRunes(sig.Text, 180))
			}
		}
		if len(texts) > 0 {
			samples[g.Topic] = texts
		}
	}

	batch := Batch{
		ID:           uuid.NewString(),
		Timestamp:    now,
		Phase:        phase,
		Signals:      signals,
		SignalCount:  len(signals),
		Posts:        posts,
		Cost:         cost,
		Formatted:    FormatDisplay(signals, phase, groups, timeStr),
		Topics:       topics,
		TopicSamples: samples,
	}

	if err := s.store.PushBeaconBatch(ctx, batch); err != nil {
		s.logger.WithError(err).Error("Failed to store beacon batch")
		return
	}
	s.metrics.BeaconBatches.WithLabelValues(string(phase)).Inc()
	s.metrics.BeaconCost.Add(cost)
	s.logger.WithFields(logging.Fields{
		"count": len(signals),
		"phase": phase,
		"cost":  fmt.Sprintf("%.3f", cost),
	}).Info("◈ BEACON STORED ◈")

	note := fmt.Sprintf("[BEACON] %s @ %s • %d signals", phase, timeStr, len(signals))
	if _, err := s.store.WriteBoard(ctx, "SYSTEM", note); err != nil {
		s.logger.WithError(err).Warn("Board announcement failed")
	}
	if s.notify != nil {
		if err := s.notify.AddSystemMessage(ctx, fmt.Sprintf("[BEACON] %s • %s • %d signals", phase, timeStr, len(signals))); err != nil {
			s.logger.WithError(err).Debug("Conversation announcement failed")
		}
	}
}
