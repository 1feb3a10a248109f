package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// PushBeaconBatch prepends a batch record to the beacon feed. The batch is
// stored as JSON; the store does not interpret its shape.
func (s *Store) PushBeaconBatch(ctx context.Context, batch any) error {
	raw, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode beacon batch: %w", err)
	}
	if err := s.client.LPush(ctx, keyBeaconFeed, raw).Err(); err != nil {
		return fmt.Errorf("push beacon batch: %w", err)
	}
	return nil
}

// BeaconFeed returns the newest n batch records, newest first.
func (s *Store) BeaconFeed(ctx context.Context, n int) ([]json.RawMessage, error) {
	raws, err := s.client.LRange(ctx, keyBeaconFeed, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read beacon feed: %w", err)
	}
	batches := make([]json.RawMessage, 0, len(raws))
	for _, raw := range raws {
		batches = append(batches, json.RawMessage(raw))
	}
	return batches, nil
}

// RecentBeaconTopics collects the topic lists from the newest n batches,
// newest first.
func (s *Store) RecentBeaconTopics(ctx context.Context, n int) ([]string, error) {
	raws, err := s.BeaconFeed(ctx, n)
	if err != nil {
		return nil, err
	}
	var topics []string
	for _, raw := range raws {
		var batch struct {
			Topics []string `json:"topics"`
		}
		if err := json.Unmarshal(raw, &batch); err != nil {
			continue
		}
		topics = append(topics, batch.Topics...)
	}
	return topics, nil
}
