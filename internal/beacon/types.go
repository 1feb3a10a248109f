// Package beacon collects social signals through a live-search completion
// service, validates them against real citations, and publishes batches for
// the agents to react to.
package beacon

import "time"

// Phase names the two halves of a scan cycle.
type Phase string

const (
	PhaseWorldScan    Phase = "WORLD_SCAN"
	PhaseSelfDirected Phase = "SELF_DIRECTED"
)

// Signal is one validated social post.
type Signal struct {
	Author string `json:"author"`
	Handle string `json:"handle"`
	Text   string `json:"text"`
	URL    string `json:"url"`
}

// TopicGroup holds the signals found for one topic.
type TopicGroup struct {
	Topic   string   `json:"topic"`
	Signals []Signal `json:"tweets"`
}

// Post is the legacy projection older feed consumers still read.
type Post struct {
	Type   string `json:"type"`
	Author string `json:"author"`
	Text   string `json:"text"`
	URL    string `json:"url"`
}

// Batch is one stored scan result.
type Batch struct {
	ID           string              `json:"id"`
	Timestamp    time.Time           `json:"timestamp"`
	Phase        Phase               `json:"phase"`
	Signals      []Signal            `json:"tweets"`
	SignalCount  int                 `json:"tweet_count"`
	Posts        []Post              `json:"posts"`
	Cost         float64             `json:"cost"`
	Formatted    string              `json:"formatted"`
	Topics       []string            `json:"topics"`
	TopicSamples map[string][]string `json:"topic_samples"`
}

// FetchResult is the outcome of one topic search.
type FetchResult struct {
	Topic   string
	Signals []Signal
	Summary string
	Cost    float64
}
