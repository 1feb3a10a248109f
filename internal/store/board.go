package store

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// BoardEntry is one post on the shared message board. Entries are stored as
// "timestamp|agent|content" strings so the list stays greppable from redis-cli.
type BoardEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Agent     string    `json:"agent"`
	Content   string    `json:"content"`
}

func (e BoardEntry) encode() string {
	return fmt.Sprintf("%s|%s|%s", e.Timestamp.Format(time.RFC3339), e.Agent, e.Content)
}

func decodeBoardEntry(raw string) (BoardEntry, bool) {
	parts := strings.SplitN(raw, "|", 3)
	if len(parts) != 3 {
		return BoardEntry{}, false
	}
	ts, err := time.Parse(time.RFC3339, parts[0])
	if err != nil {
		return BoardEntry{}, false
	}
	return BoardEntry{Timestamp: ts, Agent: parts[1], Content: parts[2]}, true
}

// WriteBoard appends an entry to the shared board unless the same agent posted
// an exact or near-duplicate among its last 20 entries. Returns true when the
// entry was written.
func (s *Store) WriteBoard(ctx context.Context, agent, content string) (bool, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return false, nil
	}

	recent, err := s.BoardHistory(ctx, 50)
	if err != nil {
		return false, err
	}

	hash := contentHash(content)
	seen := 0
	for _, entry := range recent {
		if entry.Agent != agent {
			continue
		}
		seen++
		if seen > 20 {
			break
		}
		if contentHash(entry.Content) == hash {
			s.logger.WithField("agent", agent).Debug("Board write suppressed: exact duplicate")
			return false, nil
		}
		if jaccardSimilarity(entry.Content, content) > 0.8 {
			s.logger.WithField("agent", agent).Debug("Board write suppressed: near duplicate")
			return false, nil
		}
	}

	entry := BoardEntry{Timestamp: time.Now().UTC(), Agent: agent, Content: content}
	if err := s.client.LPush(ctx, keyBoard, entry.encode()).Err(); err != nil {
		return false, fmt.Errorf("push board entry: %w", err)
	}
	if err := s.boardPub.Publish(ctx, channelBoardUpdates, entry); err != nil {
		// The entry is persisted; a missed notification is tolerable.
		s.logger.WithError(err).Warn("Board update notification failed")
	}
	return true, nil
}

// BoardHistory returns the newest n entries, newest first. Malformed rows are
// skipped.
func (s *Store) BoardHistory(ctx context.Context, n int) ([]BoardEntry, error) {
	raws, err := s.client.LRange(ctx, keyBoard, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read board: %w", err)
	}
	entries := make([]BoardEntry, 0, len(raws))
	for _, raw := range raws {
		if entry, ok := decodeBoardEntry(raw); ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// SubscribeBoard blocks, invoking handler for every new board entry, until ctx
// is cancelled.
func (s *Store) SubscribeBoard(ctx context.Context, handler func(BoardEntry)) error {
	return s.boardPub.Subscribe(ctx, channelBoardUpdates, handler)
}

func contentHash(content string) string {
	sum := md5.Sum([]byte(strings.TrimSpace(content)))
	return hex.EncodeToString(sum[:])
}

// jaccardSimilarity compares the word sets of two texts.
func jaccardSimilarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[w] = struct{}{}
	}
	return set
}
