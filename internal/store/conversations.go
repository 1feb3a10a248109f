package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ErrNoThread is returned when a conversation ID is unknown.
var ErrNoThread = errors.New("no such conversation thread")

// Conversation is the persisted metadata for one thread. Ending thresholds
// are fixed at creation so each thread has its own personality.
type Conversation struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	ThreadName     string     `json:"thread_name,omitempty"`
	StarterTopic   string     `json:"starter_topic,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
	MessageCount   int        `json:"message_count"`
	SoftLimitStart int        `json:"soft_limit_start"`
	EscalateStart  int        `json:"escalate_start"`
	HardLimit      int        `json:"hard_limit"`
	CheckInterval  int        `json:"check_interval"`
	EndReason      string     `json:"end_reason,omitempty"`
}

// ThreadMessage is one message in a conversation thread.
type ThreadMessage struct {
	Agent     string    `json:"agent"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SaveConversation upserts thread metadata. New threads are also appended to
// the thread index.
func (s *Store) SaveConversation(ctx context.Context, conv Conversation) error {
	raw, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	existed, err := s.client.HExists(ctx, keyConversations, conv.ID).Result()
	if err != nil {
		return fmt.Errorf("check conversation: %w", err)
	}
	if err := s.client.HSet(ctx, keyConversations, conv.ID, raw).Err(); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	if !existed {
		if err := s.client.RPush(ctx, keyConversationList, conv.ID).Err(); err != nil {
			return fmt.Errorf("index conversation: %w", err)
		}
	}
	return nil
}

// GetConversation loads thread metadata by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (Conversation, error) {
	raw, err := s.client.HGet(ctx, keyConversations, id).Result()
	if err == goredis.Nil {
		return Conversation{}, ErrNoThread
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	var conv Conversation
	if err := json.Unmarshal([]byte(raw), &conv); err != nil {
		return Conversation{}, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	return conv, nil
}

// ListConversations returns all thread metadata in creation order.
func (s *Store) ListConversations(ctx context.Context) ([]Conversation, error) {
	ids, err := s.client.LRange(ctx, keyConversationList, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	convs := make([]Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := s.GetConversation(ctx, id)
		if err == ErrNoThread {
			continue
		}
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

// AppendThreadMessage pushes a message onto a thread's message list.
func (s *Store) AppendThreadMessage(ctx context.Context, convID string, msg ThreadMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := s.client.RPush(ctx, convKeyPrefix+convID, raw).Err(); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ThreadMessages returns up to lastN messages from the tail of a thread, in
// chronological order. lastN <= 0 returns the full thread.
func (s *Store) ThreadMessages(ctx context.Context, convID string, lastN int) ([]ThreadMessage, error) {
	start := int64(0)
	if lastN > 0 {
		start = int64(-lastN)
	}
	raws, err := s.client.LRange(ctx, convKeyPrefix+convID, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	msgs := make([]ThreadMessage, 0, len(raws))
	for _, raw := range raws {
		var msg ThreadMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			s.logger.WithError(err).WithField("conversation", convID).Warn("Skipping undecodable thread message")
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// CurrentConversationID returns the active thread pointer, or "" when no
// thread is active.
func (s *Store) CurrentConversationID(ctx context.Context) (string, error) {
	id, err := s.client.Get(ctx, keyCurrentConv).Result()
	if err == goredis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load current conversation: %w", err)
	}
	return id, nil
}

// SetCurrentConversationID updates the active thread pointer; an empty ID
// clears it.
func (s *Store) SetCurrentConversationID(ctx context.Context, id string) error {
	if id == "" {
		if err := s.client.Del(ctx, keyCurrentConv).Err(); err != nil {
			return fmt.Errorf("clear current conversation: %w", err)
		}
		return nil
	}
	if err := s.client.Set(ctx, keyCurrentConv, id, 0).Err(); err != nil {
		return fmt.Errorf("set current conversation: %w", err)
	}
	return nil
}
