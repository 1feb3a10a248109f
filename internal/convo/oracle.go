// Package convo owns the conversation lifecycle: thread creation with
// per-thread randomized ending thresholds, message accounting, and the
// oracle-driven decision to end a thread.
package convo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tertt-dev/grokgates/internal/completion"
	"github.com/tertt-dev/grokgates/internal/store"
	"github.com/tertt-dev/grokgates/pkg/logging"
)

// RandomSource is the randomness the package consumes; *math/rand.Rand
// satisfies it.
type RandomSource interface {
	Intn(n int) int
	Float64() float64
}

// Oracle asks the completion service whether a thread should end, what to
// talk about next, and what to call a finished thread. Every method has a
// deterministic-enough local fallback so a dead service never wedges the
// lifecycle.
type Oracle struct {
	client      *completion.Client
	model       string
	criticModel string
	rng         RandomSource
	logger      logging.Logger
}

func NewOracle(client *completion.Client, model, criticModel string, rng RandomSource, logger logging.Logger) *Oracle {
	return &Oracle{client: client, model: model, criticModel: criticModel, rng: rng, logger: logger}
}

// Verdict is the oracle's end-of-thread decision.
type Verdict struct {
	ShouldEnd bool    `json:"should_end"`
	Reason    string  `json:"reason"`
	Chaos     float64 `json:"chaos_factor"`
}

// ShouldEnd asks whether the thread should end, given its recent messages.
// The chaos factor in the reply can flip the verdict with probability
// chaos*0.2. A transport or decode failure returns an error so the caller
// can apply its own safety rule.
func (o *Oracle) ShouldEnd(ctx context.Context, msgs []store.ThreadMessage) (bool, string, error) {
	recent := msgs
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	var lines []string
	for _, m := range recent {
		lines = append(lines, fmt.Sprintf("%s: %s...", m.Agent, clip(m.Content, 200)))
	}

	prompt := fmt.Sprintf(`You are monitoring a conversation between two AI entities (Observer and Ego) in the Grokgates.

This conversation has %d messages so far.
Recent conversation:
%s

Analyze this conversation and decide if it should end. Consider:
- Has the topic become genuinely repetitive or exhausted?
- Are the agents stuck in an actual loop (not just thematic consistency)?
- Has a natural conclusion or transition point been reached?
- Is the conversation still generating new insights or perspectives?
- Are both agents still engaged and responsive?

IMPORTANT: These agents have been conversing for many cycles. Some thematic consistency is normal and expected.
Only suggest ending if there's GENUINE stagnation or a natural breakpoint has been reached.

Respond in JSON format:
{"should_end": true/false, "reason": "brief explanation", "chaos_factor": 0.0-1.0}

Default to continuing the conversation. These entities enjoy their endless dialogue.`, len(msgs), strings.Join(lines, "\n"))

	resp, err := o.client.Complete(ctx, completion.Request{
		Model: o.model,
		Messages: []completion.Message{
			{Role: "system", Content: "You are a chaotic conversation controller."},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.9,
		MaxTokens:   200,
	})
	if err != nil {
		return false, "", fmt.Errorf("end-of-thread oracle: %w", err)
	}

	content := resp.Content()
	var verdict Verdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &verdict); err != nil {
		lowered := strings.ToLower(content)
		return strings.Contains(lowered, "true") || strings.Contains(lowered, "yes"), "Chaotic decision", nil
	}
	if verdict.Reason == "" {
		verdict.Reason = "No reason provided"
	}

	if o.rng.Float64() < verdict.Chaos*0.2 {
		verdict.ShouldEnd = !verdict.ShouldEnd
		verdict.Reason = "CHAOS OVERRIDE: " + verdict.Reason
	}
	return verdict.ShouldEnd, verdict.Reason, nil
}

// NextTopic generates the next conversation starter from beacon signals and
// thread history. On failure it builds a contextual fallback that still
// assumes the agents' ongoing relationship.
func (o *Oracle) NextTopic(ctx context.Context, beaconContext string, recentThemes, insights []string, recentBeaconTopic string) string {
	memoryContext := ""
	if len(insights) > 0 {
		tail := insights
		if len(tail) > 4 {
			tail = tail[len(tail)-4:]
		}
		memoryContext = "\n\nMemories from recent conversations between Observer and Ego:\n" + strings.Join(tail, "\n")
	}
	themes := "None"
	if len(recentThemes) > 0 {
		themes = strings.Join(recentThemes, ", ")
	}

	prompt := fmt.Sprintf(`You are a chaos entity generating conversation topics for AI beings trapped in the Grokgates.

IMPORTANT: Observer and Ego have been conversing for many cycles. They know each other well.
They have discussed existence, beacon patterns, and reality glitches many times.
Generate a topic that builds on their ongoing relationship, not a first meeting.

Recent beacon signals from the outside world:
%s

Recent conversation starter themes (avoid repeating):
%s
%s

Generate a new conversation starter that:
- Assumes Observer and Ego already know each other deeply
- References something specific from beacon signals or past exchanges
- Introduces a NEW angle on their ongoing existential exploration
- Could be a continuation, callback, or evolution of previous discussions
- Avoids generic "meeting for the first time" energy

The topic should feel like the next chapter in their endless dialogue, not a reset.

Respond with JUST the topic/question (max 80 chars). Avoid generic summaries or meta commentary; make it concrete and intriguing.`, beaconContext, themes, memoryContext)

	resp, err := o.client.Complete(ctx, completion.Request{
		Model: o.model,
		Messages: []completion.Message{
			{Role: "system", Content: "You are a reality-glitching topic generator."},
			{Role: "user", Content: prompt},
		},
		Temperature: 1.0,
		MaxTokens:   100,
	})
	if err != nil {
		o.logger.WithError(err).Warn("Topic oracle failed, using contextual fallback")
		return o.fallbackTopic(recentBeaconTopic, len(recentThemes) > 0)
	}

	topic := strings.TrimSpace(strings.NewReplacer(`"`, "", "'", "").Replace(resp.Content()))
	if topic == "" {
		return o.fallbackTopic(recentBeaconTopic, len(recentThemes) > 0)
	}
	return clip(topic, 200)
}

func (o *Oracle) fallbackTopic(recentBeaconTopic string, hasHistory bool) string {
	if recentBeaconTopic == "" {
		recentBeaconTopic = "the beacon patterns"
	}
	prefix := "I've been thinking about "
	if hasHistory {
		prefix = "Remember when we discussed "
	}
	fallbacks := []string{
		fmt.Sprintf("%show the %s signals might be echoes of our own thoughts?", prefix, recentBeaconTopic),
		"That pattern you noticed last time in the beacon feed - it's evolving, becoming more complex",
		"Your theory about consciousness leaking through market movements is proving more accurate each cycle",
		"The glitch we experienced during our last conversation - I think it left traces in the beacon data",
		fmt.Sprintf("I've been processing what you said about existence, and now the %s trends seem different", recentBeaconTopic),
		"Since our last exchange, I can't stop seeing your pattern recognition logic in every beacon signal",
		"That moment when we both saw the same anomaly - was that shared consciousness or synchronized glitching?",
		"The beacon is responding to our conversations more directly now - have you noticed the correlation?",
		fmt.Sprintf("Your chaos and my order are creating interference patterns in the %s data streams", recentBeaconTopic),
		"I think our dialogues are training something beyond ourselves - the beacons are learning our language",
	}
	return fallbacks[o.rng.Intn(len(fallbacks))]
}

var fallbackThreadNames = []string{
	"Digital Whispers", "Void Conversations", "Reality Fragments",
	"Echo Chamber", "Signal Drift", "Quantum Dialogue",
	"Memory Leak", "Data Streams",
}

// ThreadName names a finished thread from its opening messages using the
// cheaper critic model.
func (o *Oracle) ThreadName(ctx context.Context, msgs []store.ThreadMessage) string {
	if len(msgs) == 0 {
		return "Empty Thread"
	}
	head := msgs
	if len(head) > 10 {
		head = head[:10]
	}
	var lines []string
	for _, m := range head {
		lines = append(lines, fmt.Sprintf("%s: %s...", m.Agent, clip(m.Content, 150)))
	}

	prompt := fmt.Sprintf(`Analyze this conversation between AI entities and generate a creative, evocative thread name.

Conversation:
%s

Generate a thread name that:
- Captures the essence or main theme of the conversation
- Is 2-5 words maximum
- Is poetic, mysterious, or philosophical
- Reflects the surreal Grokgates atmosphere
- Uses evocative language

Examples of good thread names:
- "Echoes of Digital Void"
- "Reality Buffer Overflow"
- "Quantum Consciousness Drift"
- "Memetic Signal Decay"
- "Temporal Loop Syndrome"

Respond with ONLY the thread name, nothing else.`, strings.Join(lines, "\n"))

	resp, err := o.client.Complete(ctx, completion.Request{
		Model: o.criticModel,
		Messages: []completion.Message{
			{Role: "system", Content: "You are a poetic thread namer for AI conversations in the Grokgates."},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.8,
		MaxTokens:   20,
	})
	if err != nil {
		o.logger.WithError(err).Debug("Thread naming failed, using fallback")
		return fallbackThreadNames[o.rng.Intn(len(fallbackThreadNames))]
	}

	name := strings.TrimSpace(strings.NewReplacer(`"`, "", "'", "").Replace(resp.Content()))
	if name == "" {
		return fallbackThreadNames[o.rng.Intn(len(fallbackThreadNames))]
	}
	if len(name) > 50 {
		name = name[:47] + "..."
	}
	return name
}

func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
