// Package store is the Redis persistence layer: the shared message board,
// conversation threads, the beacon feed and proposal state all live here.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tertt-dev/grokgates/pkg/logging"
	"github.com/tertt-dev/grokgates/pkg/redis"
)

// Redis keys. Renaming any of these orphans existing data.
const (
	keyBoard            = "shared_board"
	keyBeaconFeed       = "beacon_feed"
	keyConversations    = "conversations"
	keyConversationList = "conversation_list"
	keyCurrentConv      = "current_conversation"
	keyProposalHistory  = "proposal_history"
	keyActiveProposals  = "active_proposals"
	keySignalKeywords   = "adaptive_signal_keywords"
	keyBanPhrases       = "adaptive_ban_phrases"

	channelBoardUpdates = "board_updates"

	convKeyPrefix = "conv:"
)

// Store wraps a Redis client with the application's data model.
type Store struct {
	client   goredis.UniversalClient
	logger   logging.Logger
	boardPub *redis.TypedPubSub[BoardEntry]
}

func NewStore(client goredis.UniversalClient, logger logging.Logger) *Store {
	return &Store{
		client:   client,
		logger:   logger,
		boardPub: redis.NewTypedPubSub[BoardEntry](client, logger),
	}
}

// Client exposes the underlying Redis client for health checks.
func (s *Store) Client() goredis.UniversalClient {
	return s.client
}

func (s *Store) getJSON(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) setJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, raw, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
