package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tertt-dev/grokgates/internal/proposals"
)

const proposalHistoryCap = 100

// SaveProposalHistory prepends proposals to the rolling history and trims it.
func (s *Store) SaveProposalHistory(ctx context.Context, items []proposals.Proposal) error {
	if len(items) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, p := range items {
		raw, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode proposal: %w", err)
		}
		pipe.LPush(ctx, keyProposalHistory, raw)
	}
	pipe.LTrim(ctx, keyProposalHistory, 0, proposalHistoryCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save proposal history: %w", err)
	}
	return nil
}

// ProposalHistory returns up to n recent proposals, newest first.
func (s *Store) ProposalHistory(ctx context.Context, n int) ([]proposals.Proposal, error) {
	raws, err := s.client.LRange(ctx, keyProposalHistory, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read proposal history: %w", err)
	}
	items := make([]proposals.Proposal, 0, len(raws))
	for _, raw := range raws {
		var p proposals.Proposal
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		items = append(items, p)
	}
	return items, nil
}

// SetActiveProposals stashes the proposals extracted at a phase transition so
// the self-directed scan that follows can search for them.
func (s *Store) SetActiveProposals(ctx context.Context, items []proposals.Proposal) error {
	return s.setJSON(ctx, keyActiveProposals, items)
}

// ActiveProposals returns the stashed proposals, or nil when none are staged.
func (s *Store) ActiveProposals(ctx context.Context) ([]proposals.Proposal, error) {
	var items []proposals.Proposal
	if _, err := s.getJSON(ctx, keyActiveProposals, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// AdaptiveKeywords returns the learned signal keywords.
func (s *Store) AdaptiveKeywords(ctx context.Context) ([]string, error) {
	return s.commaList(ctx, keySignalKeywords)
}

// AdaptiveBanPhrases returns the learned ban phrases.
func (s *Store) AdaptiveBanPhrases(ctx context.Context) ([]string, error) {
	return s.commaList(ctx, keyBanPhrases)
}

// MergeAdaptiveKeywords unions new keywords into the learned set.
func (s *Store) MergeAdaptiveKeywords(ctx context.Context, add []string) error {
	return s.mergeCommaList(ctx, keySignalKeywords, add)
}

// MergeAdaptiveBanPhrases unions new phrases into the learned ban set.
func (s *Store) MergeAdaptiveBanPhrases(ctx context.Context, add []string) error {
	return s.mergeCommaList(ctx, keyBanPhrases, add)
}

func (s *Store) commaList(ctx context.Context, key string) ([]string, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *Store) mergeCommaList(ctx context.Context, key string, add []string) error {
	existing, err := s.commaList(ctx, key)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(existing))
	merged := existing
	for _, item := range existing {
		seen[strings.ToLower(item)] = struct{}{}
	}
	for _, item := range add {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, dup := seen[strings.ToLower(item)]; dup {
			continue
		}
		seen[strings.ToLower(item)] = struct{}{}
		merged = append(merged, item)
	}
	if len(merged) == len(existing) {
		return nil
	}
	if err := s.client.Set(ctx, key, strings.Join(merged, ","), 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
