// Package retrieval provides the read-side queries over a memory aggregate:
// recency and importance ordered slices, keyword search, the bounded
// conversation window used for prompt context, and the external overview
// surface.
package retrieval

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/agentrelay/agentrelay-go/pkg/core"
	"github.com/agentrelay/agentrelay-go/pkg/memory"
)

// Engine answers read queries against the memory store.
type Engine struct {
	store *memory.Store
}

// NewEngine creates a retrieval engine over the given store.
func NewEngine(store *memory.Store) *Engine {
	return &Engine{store: store}
}

// errNoMatches aborts the bookkeeping write when a query returns nothing,
// so a miss leaves the aggregate untouched.
var errNoMatches = errors.New("retrieval: no matching entries")

// RecentMemories returns the most recent entries, newest first, optionally
// filtered by type and truncated to the query limit.
//
// Returning an entry is an observable access: its LastAccessed is refreshed
// and its AccessCount incremented, and both changes are persisted. A miss
// performs no write, and a key that was never written to stays absent.
func (e *Engine) RecentMemories(ctx context.Context, userID, agentID string, opts ...core.QueryOption) ([]*core.MemoryEntry, error) {
	o := core.ApplyQueryOptions(opts)

	var result []*core.MemoryEntry
	_, err := e.store.UpdateExisting(ctx, userID, agentID, func(agg *core.MemoryAggregate) error {
		candidates := make([]*core.MemoryEntry, 0, len(agg.Entries))
		for _, entry := range agg.Entries {
			if o.Type != "" && entry.Type != o.Type {
				continue
			}
			candidates = append(candidates, entry)
		}
		if len(candidates) == 0 {
			return errNoMatches
		}
		sortByRecency(candidates)
		if len(candidates) > o.Limit {
			candidates = candidates[:o.Limit]
		}

		now := time.Now()
		for _, entry := range candidates {
			entry.LastAccessed = now
			entry.AccessCount++
		}
		result = candidates
		return nil
	})
	if errors.Is(err, errNoMatches) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ImportantMemories returns entries with importance at or above the query
// threshold, most important first, ties broken by recency.
func (e *Engine) ImportantMemories(ctx context.Context, userID, agentID string, opts ...core.QueryOption) ([]*core.MemoryEntry, error) {
	o := core.ApplyQueryOptions(opts)

	var result []*core.MemoryEntry
	err := e.store.View(ctx, userID, agentID, func(agg *core.MemoryAggregate) error {
		for _, entry := range agg.Entries {
			if entry.Importance >= o.Threshold {
				result = append(result, entry)
			}
		}
		sort.SliceStable(result, func(i, j int) bool {
			if result[i].Importance != result[j].Importance {
				return result[i].Importance > result[j].Importance
			}
			return result[i].CreatedAt.After(result[j].CreatedAt)
		})
		if len(result) > o.Limit {
			result = result[:o.Limit]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RecentContext returns the most recent windowSize conversation entries in
// chronological order (oldest first), the shape consumed as prompt context.
func (e *Engine) RecentContext(ctx context.Context, userID, agentID string, windowSize int) ([]*core.MemoryEntry, error) {
	var result []*core.MemoryEntry
	err := e.store.View(ctx, userID, agentID, func(agg *core.MemoryAggregate) error {
		conversations := agg.EntriesOfType(core.MemoryTypeConversation)
		if windowSize > 0 && len(conversations) > windowSize {
			conversations = conversations[len(conversations)-windowSize:]
		}
		result = conversations
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SearchMemories matches query case-insensitively against entry content.
// Results are ranked by match count weighted by importance, ties broken by
// recency.
func (e *Engine) SearchMemories(ctx context.Context, userID, agentID, query string) ([]*core.MemoryEntry, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, core.WrapError("SearchMemories", core.ErrInvalidInput)
	}

	type scored struct {
		entry *core.MemoryEntry
		score float64
	}

	var matches []scored
	err := e.store.View(ctx, userID, agentID, func(agg *core.MemoryAggregate) error {
		for _, entry := range agg.Entries {
			count := strings.Count(strings.ToLower(entry.Content), needle)
			if count == 0 {
				continue
			}
			matches = append(matches, scored{
				entry: entry,
				score: float64(count) * entry.Importance,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].entry.CreatedAt.After(matches[j].entry.CreatedAt)
	})

	result := make([]*core.MemoryEntry, len(matches))
	for i, m := range matches {
		result[i] = m.entry
	}
	return result, nil
}

// Overview assembles the external memory query surface for one
// (userID, agentID) pair: aggregate stats, the recent conversation window
// and all stored preferences.
func (e *Engine) Overview(ctx context.Context, userID, agentID string) (*core.MemoryOverview, error) {
	overview := &core.MemoryOverview{
		Stats: core.MemoryStats{EntriesByType: make(map[core.MemoryType]int)},
	}

	err := e.store.View(ctx, userID, agentID, func(agg *core.MemoryAggregate) error {
		var importanceSum float64
		for _, entry := range agg.Entries {
			overview.Stats.TotalEntries++
			overview.Stats.EntriesByType[entry.Type]++
			importanceSum += entry.Importance
		}
		if overview.Stats.TotalEntries > 0 {
			overview.Stats.AverageImportance = importanceSum / float64(overview.Stats.TotalEntries)
		}

		conversations := agg.EntriesOfType(core.MemoryTypeConversation)
		if len(conversations) > core.DefaultQueryLimit {
			conversations = conversations[len(conversations)-core.DefaultQueryLimit:]
		}
		overview.RecentContext = conversations
		overview.Preferences = agg.EntriesOfType(core.MemoryTypePreference)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return overview, nil
}

// sortByRecency orders entries newest first. The sort is stable, so entries
// created in the same instant keep their insertion order.
func sortByRecency(entries []*core.MemoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}
