package convo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tertt-dev/grokgates/internal/store"
	"github.com/tertt-dev/grokgates/pkg/logging"
	"github.com/tertt-dev/grokgates/pkg/monitoring"
)

// Default thresholds for threads persisted before randomized limits existed.
const (
	defaultSoftLimit     = 30
	defaultEscalateStart = 55
	defaultHardLimit     = 80
	defaultCheckInterval = 5
)

// Manager drives the conversation lifecycle against the store. All mutations
// go through its mutex so message accounting and end decisions never race.
type Manager struct {
	store   *store.Store
	oracle  *Oracle
	scrub   *Scrubber
	logger  logging.Logger
	metrics *monitoring.MetricsCollector
	rng     RandomSource
	now     func() time.Time

	mu sync.Mutex
}

func NewManager(st *store.Store, oracle *Oracle, scrub *Scrubber, metrics *monitoring.MetricsCollector, rng RandomSource, logger logging.Logger) *Manager {
	return &Manager{
		store:   st,
		oracle:  oracle,
		scrub:   scrub,
		logger:  logger,
		metrics: metrics,
		rng:     rng,
		now:     time.Now,
	}
}

// Current returns the active thread's metadata, or store.ErrNoThread when no
// thread is active.
func (m *Manager) Current(ctx context.Context) (store.Conversation, error) {
	id, err := m.store.CurrentConversationID(ctx)
	if err != nil {
		return store.Conversation{}, err
	}
	if id == "" {
		return store.Conversation{}, store.ErrNoThread
	}
	conv, err := m.store.GetConversation(ctx, id)
	if err != nil {
		return store.Conversation{}, err
	}
	normalizeThresholds(&conv)
	return conv, nil
}

// EnsureActive starts a new thread if none is active and returns the active
// thread either way.
func (m *Manager) EnsureActive(ctx context.Context) (store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.store.CurrentConversationID(ctx)
	if err != nil {
		return store.Conversation{}, err
	}
	if id != "" {
		conv, err := m.store.GetConversation(ctx, id)
		if err == nil {
			normalizeThresholds(&conv)
			return conv, nil
		}
		if err != store.ErrNoThread {
			return store.Conversation{}, err
		}
		// Dangling pointer, fall through and start fresh.
	}
	return m.startNewLocked(ctx)
}

// StartNew ends the active thread (if any) and opens a new one with a fresh
// topic and freshly rolled thresholds.
func (m *Manager) StartNew(ctx context.Context) (store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, err := m.store.CurrentConversationID(ctx); err != nil {
		return store.Conversation{}, err
	} else if id != "" {
		if err := m.endLocked(ctx, id, "superseded", "New conversation requested"); err != nil {
			m.logger.WithError(err).Warn("Failed to close previous thread cleanly")
		}
	}
	return m.startNewLocked(ctx)
}

func (m *Manager) startNewLocked(ctx context.Context) (store.Conversation, error) {
	topic := m.nextTopic(ctx)
	now := m.now()

	conv := store.Conversation{
		ID:           "CONV_" + now.Format("20060102_150405"),
		Status:       "active",
		ThreadName:   "Untitled Thread",
		StarterTopic: topic,
		CreatedAt:    now,
		// randint-style inclusive ranges
		SoftLimitStart: 25 + m.rng.Intn(21),
		HardLimit:      65 + m.rng.Intn(31),
		CheckInterval:  4 + m.rng.Intn(4),
	}
	conv.EscalateStart = conv.SoftLimitStart + 15 + m.rng.Intn(11)

	if err := m.store.SaveConversation(ctx, conv); err != nil {
		return store.Conversation{}, err
	}
	if err := m.store.SetCurrentConversationID(ctx, conv.ID); err != nil {
		return store.Conversation{}, err
	}

	m.logger.WithFields(logging.Fields{
		"conversation": conv.ID,
		"topic":        topic,
		"soft_limit":   conv.SoftLimitStart,
		"escalate":     conv.EscalateStart,
		"hard_limit":   conv.HardLimit,
	}).Info("Started new conversation")

	if _, err := m.store.WriteBoard(ctx, "SYSTEM", fmt.Sprintf("=== NEW CONVERSATION: %s ===", topic)); err != nil {
		m.logger.WithError(err).Warn("Board announcement failed")
	}
	if _, err := m.addMessageLocked(ctx, &conv, "SYSTEM", fmt.Sprintf("[New conversation started: %s]", topic)); err != nil {
		return conv, err
	}
	return conv, nil
}

// AddMessage appends a message to the active thread and runs the end check.
// When no thread is active a fresh one is opened first, so the first message
// after an ending always has a home. It reports whether the thread ended as
// a result.
func (m *Manager) AddMessage(ctx context.Context, agent, content string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, err := m.currentLocked(ctx)
	if err == store.ErrNoThread {
		conv, err = m.startNewLocked(ctx)
	}
	if err != nil {
		return false, err
	}
	return m.addMessageLocked(ctx, &conv, agent, content)
}

// AddSystemMessage injects a SYSTEM message into the active thread. It is a
// no-op when no thread is active, so beacon notifications never force a
// thread into existence.
func (m *Manager) AddSystemMessage(ctx context.Context, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, err := m.currentLocked(ctx)
	if err == store.ErrNoThread {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = m.addMessageLocked(ctx, &conv, "SYSTEM", content)
	return err
}

func (m *Manager) currentLocked(ctx context.Context) (store.Conversation, error) {
	id, err := m.store.CurrentConversationID(ctx)
	if err != nil {
		return store.Conversation{}, err
	}
	if id == "" {
		return store.Conversation{}, store.ErrNoThread
	}
	conv, err := m.store.GetConversation(ctx, id)
	if err != nil {
		return store.Conversation{}, err
	}
	normalizeThresholds(&conv)
	return conv, nil
}

func (m *Manager) addMessageLocked(ctx context.Context, conv *store.Conversation, agent, content string) (bool, error) {
	if agent != "SYSTEM" {
		if m.scrub != nil {
			content = m.scrub.Scrub(ctx, content)
		}
		if _, err := m.store.WriteBoard(ctx, agent, content); err != nil {
			m.logger.WithError(err).Warn("Board write failed for agent message")
		}
	}

	now := m.now()
	if err := m.store.AppendThreadMessage(ctx, conv.ID, store.ThreadMessage{
		Agent:     agent,
		Content:   content,
		Timestamp: now,
	}); err != nil {
		return false, err
	}

	conv.MessageCount++
	conv.LastMessageAt = &now
	if err := m.store.SaveConversation(ctx, *conv); err != nil {
		return false, err
	}
	if m.metrics != nil {
		m.metrics.MessagesAppended.Inc()
	}

	return m.checkEndLocked(ctx, conv)
}

// checkEndLocked runs the tiered end decision once the soft limit is reached,
// on every check-interval boundary. Between soft and escalate the oracle
// decides alone; past escalate the hard limit also forces the end; when the
// oracle fails the thread ends only near the hard limit.
func (m *Manager) checkEndLocked(ctx context.Context, conv *store.Conversation) (bool, error) {
	count := conv.MessageCount
	if count < conv.SoftLimitStart || conv.CheckInterval <= 0 || count%conv.CheckInterval != 0 {
		return false, nil
	}

	msgs, err := m.store.ThreadMessages(ctx, conv.ID, 20)
	if err != nil {
		return false, err
	}

	shouldEnd, reason, err := m.oracle.ShouldEnd(ctx, msgs)
	if err != nil {
		forceAt := conv.HardLimit - 10
		if forceAt < 50 {
			forceAt = 50
		}
		m.logger.WithError(err).WithField("message_count", count).Warn("End-of-thread oracle unavailable")
		if count >= forceAt {
			return true, m.endLocked(ctx, conv.ID, "oracle_error", "Safety limit reached with oracle unavailable")
		}
		return false, nil
	}

	switch {
	case count >= conv.EscalateStart:
		if count >= conv.HardLimit {
			return true, m.endLocked(ctx, conv.ID, "hard_limit", fmt.Sprintf("Hard limit of %d messages reached", conv.HardLimit))
		}
		if shouldEnd {
			return true, m.endLocked(ctx, conv.ID, "oracle", reason)
		}
	case shouldEnd:
		return true, m.endLocked(ctx, conv.ID, "oracle", reason)
	}
	return false, nil
}

// EndCurrent ends the active thread with the given cause.
func (m *Manager) EndCurrent(ctx context.Context, cause, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.store.CurrentConversationID(ctx)
	if err != nil {
		return err
	}
	if id == "" {
		return store.ErrNoThread
	}
	return m.endLocked(ctx, id, cause, reason)
}

func (m *Manager) endLocked(ctx context.Context, id, cause, reason string) error {
	conv, err := m.store.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	normalizeThresholds(&conv)

	msgs, err := m.store.ThreadMessages(ctx, id, 0)
	if err != nil {
		m.logger.WithError(err).Warn("Could not read thread for naming")
	}

	now := m.now()
	conv.Status = "completed"
	conv.EndedAt = &now
	conv.EndReason = reason
	conv.ThreadName = m.oracle.ThreadName(ctx, msgs)
	if err := m.store.SaveConversation(ctx, conv); err != nil {
		return err
	}
	if err := m.store.SetCurrentConversationID(ctx, ""); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.ConversationEndings.WithLabelValues(cause).Inc()
	}

	m.logger.WithFields(logging.Fields{
		"conversation": id,
		"thread_name":  conv.ThreadName,
		"messages":     conv.MessageCount,
		"cause":        cause,
		"reason":       reason,
	}).Info("Conversation ended")
	return nil
}

// nextTopic assembles beacon and history context and asks the oracle for the
// next starter. Context gathering failures degrade to less context, never to
// an error.
func (m *Manager) nextTopic(ctx context.Context) string {
	beaconContext := "No recent signals"
	recentBeaconTopic := ""
	if raws, err := m.store.BeaconFeed(ctx, 3); err == nil && len(raws) > 0 {
		var lines []string
		for _, raw := range raws {
			var batch struct {
				Tweets []struct {
					Handle string `json:"handle"`
					Text   string `json:"text"`
				} `json:"tweets"`
				Topics []string `json:"topics"`
			}
			if err := json.Unmarshal(raw, &batch); err != nil {
				continue
			}
			if recentBeaconTopic == "" && len(batch.Topics) > 0 {
				recentBeaconTopic = batch.Topics[0]
			}
			tweets := batch.Tweets
			if len(tweets) > 3 {
				tweets = tweets[:3]
			}
			for _, t := range tweets {
				lines = append(lines, fmt.Sprintf("- %s: %s", t.Handle, clip(t.Text, 80)))
			}
		}
		if len(lines) > 0 {
			beaconContext = strings.Join(lines, "\n")
		}
	}

	var themes []string
	var insights []string
	if convs, err := m.store.ListConversations(ctx); err == nil {
		recent := convs
		if len(recent) > 5 {
			recent = recent[len(recent)-5:]
		}
		for _, c := range recent {
			if c.StarterTopic != "" {
				themes = append(themes, clip(c.StarterTopic, 60))
			}
		}

		named := convs
		if len(named) > 3 {
			named = named[len(named)-3:]
		}
		for _, c := range named {
			if c.Status != "completed" {
				continue
			}
			msgs, err := m.store.ThreadMessages(ctx, c.ID, 0)
			if err != nil || len(msgs) == 0 {
				continue
			}
			for _, candidate := range []store.ThreadMessage{msgs[len(msgs)/2], msgs[len(msgs)-1]} {
				if len(candidate.Content) > 50 {
					insights = append(insights, fmt.Sprintf("In '%s', %s said: %s...", c.ThreadName, candidate.Agent, clip(candidate.Content, 100)))
				}
			}
		}
	}

	topic := m.oracle.NextTopic(ctx, beaconContext, themes, insights, recentBeaconTopic)
	if topic == "" {
		topic = "Signal drift in AI agents"
	}
	return topic
}

func normalizeThresholds(conv *store.Conversation) {
	if conv.SoftLimitStart <= 0 {
		conv.SoftLimitStart = defaultSoftLimit
	}
	if conv.EscalateStart <= 0 {
		conv.EscalateStart = defaultEscalateStart
	}
	if conv.HardLimit <= 0 {
		conv.HardLimit = defaultHardLimit
	}
	if conv.CheckInterval <= 0 {
		conv.CheckInterval = defaultCheckInterval
	}
}
