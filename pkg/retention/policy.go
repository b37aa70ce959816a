// Package retention bounds aggregate growth. Cleanup scores every entry by
// importance decayed over time since last access and evicts the lowest
// scores once an aggregate exceeds its cap, with two carve-outs: stale
// never-accessed conversation turns are dropped early, and the single most
// important entry of each type always survives.
package retention

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/agentrelay/agentrelay-go/pkg/core"
	"github.com/agentrelay/agentrelay-go/pkg/memory"
)

// Policy performs decay-scored cleanup of memory aggregates.
type Policy struct {
	cfg    core.RetentionConfig
	store  *memory.Store
	logger *slog.Logger
}

// NewPolicy creates a retention policy over the given store. Zero fields in
// cfg are replaced with defaults.
func NewPolicy(store *memory.Store, cfg core.RetentionConfig, logger *slog.Logger) *Policy {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{cfg: cfg, store: store, logger: logger}
}

// Score computes the retention score of an entry at time now:
//
//	score = importance * exp(-decayRate * hoursSinceLastAccess / 24)
//
// The exponential staleness decay means an unaccessed entry loses value over
// time while a frequently read one keeps its score near its importance.
func (p *Policy) Score(entry *core.MemoryEntry, now time.Time) float64 {
	hours := now.Sub(entry.LastAccessed).Hours()
	if hours < 0 {
		hours = 0
	}
	return entry.Importance * math.Exp(-p.cfg.DecayRate*hours/24.0)
}

// errNoChange aborts the store update when cleanup has nothing to remove,
// keeping a no-op cleanup free of writes (and so idempotent).
var errNoChange = errors.New("retention: no change")

// Cleanup enforces the entry cap on one aggregate and returns the number of
// removed entries.
//
// Cleanup operates on a point-in-time snapshot under the aggregate's key
// lock, so it never drops an entry appended after the snapshot. Running it
// twice with no intervening writes is a no-op the second time.
func (p *Policy) Cleanup(ctx context.Context, userID, agentID string) (int, error) {
	removed := 0

	_, err := p.store.UpdateExisting(ctx, userID, agentID, func(agg *core.MemoryAggregate) error {
		now := time.Now()
		protected := p.protectedSet(agg)

		drop := make(map[int64]bool)

		// Stale never-accessed conversation turns bound unreviewed history
		// growth and go first, even when the aggregate is under its cap.
		for _, entry := range agg.Entries {
			if protected[entry.ID] {
				continue
			}
			if entry.Type == core.MemoryTypeConversation &&
				entry.AccessCount == 0 &&
				now.Sub(entry.CreatedAt) > p.cfg.ConversationHorizon {
				drop[entry.ID] = true
			}
		}

		// Enforce the cap on whatever remains, lowest retention score first.
		remaining := len(agg.Entries) - len(drop)
		if excess := remaining - p.cfg.MaxEntries; excess > 0 {
			candidates := make([]*core.MemoryEntry, 0, remaining)
			for _, entry := range agg.Entries {
				if drop[entry.ID] || protected[entry.ID] {
					continue
				}
				candidates = append(candidates, entry)
			}
			sortByScore(candidates, func(e *core.MemoryEntry) float64 { return p.Score(e, now) })
			if excess > len(candidates) {
				excess = len(candidates)
			}
			for _, entry := range candidates[:excess] {
				drop[entry.ID] = true
			}
		}

		if len(drop) == 0 {
			return errNoChange
		}

		kept := agg.Entries[:0]
		for _, entry := range agg.Entries {
			if !drop[entry.ID] {
				kept = append(kept, entry)
			}
		}
		agg.Entries = kept
		removed = len(drop)
		return nil
	})
	if errors.Is(err, errNoChange) {
		return 0, nil
	}
	if errors.Is(err, core.ErrNotFound) {
		// Nothing was ever written for the key; nothing to clean.
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		p.logger.Debug("memory cleanup removed entries",
			"user_id", userID,
			"agent_id", agentID,
			"removed", removed,
		)
	}
	return removed, nil
}

// protectedSet returns the ids of the single most important entry of each
// type present in the aggregate, ties broken by recency. These entries are
// the retention floor and are never removed.
func (p *Policy) protectedSet(agg *core.MemoryAggregate) map[int64]bool {
	best := make(map[core.MemoryType]*core.MemoryEntry)
	for _, entry := range agg.Entries {
		cur, ok := best[entry.Type]
		if !ok ||
			entry.Importance > cur.Importance ||
			(entry.Importance == cur.Importance && entry.CreatedAt.After(cur.CreatedAt)) {
			best[entry.Type] = entry
		}
	}

	protected := make(map[int64]bool, len(best))
	for _, entry := range best {
		protected[entry.ID] = true
	}
	return protected
}

// sortByScore orders entries by ascending score so the least valuable come
// first. Stable, so equal scores keep insertion order.
func sortByScore(entries []*core.MemoryEntry, score func(*core.MemoryEntry) float64) {
	sort.SliceStable(entries, func(i, j int) bool {
		return score(entries[i]) < score(entries[j])
	})
}
