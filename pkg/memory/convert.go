package memory

import (
	"github.com/agentrelay/agentrelay-go/pkg/core"
	"github.com/agentrelay/agentrelay-go/pkg/storage"
)

// Conversions between the core data model and the storage mirror types. The
// storage package keeps its own shapes to avoid an import cycle with core.

func toStorageEntry(e *core.MemoryEntry) *storage.Entry {
	return &storage.Entry{
		ID:           e.ID,
		Type:         string(e.Type),
		Content:      e.Content,
		Importance:   e.Importance,
		CreatedAt:    e.CreatedAt,
		LastAccessed: e.LastAccessed,
		AccessCount:  e.AccessCount,
		Metadata:     e.Metadata,
	}
}

func fromStorageEntry(e *storage.Entry) *core.MemoryEntry {
	return &core.MemoryEntry{
		ID:           e.ID,
		Type:         core.MemoryType(e.Type),
		Content:      e.Content,
		Importance:   e.Importance,
		CreatedAt:    e.CreatedAt,
		LastAccessed: e.LastAccessed,
		AccessCount:  e.AccessCount,
		Metadata:     e.Metadata,
	}
}

func toStorageAggregate(a *core.MemoryAggregate) *storage.Aggregate {
	agg := &storage.Aggregate{
		UserID:      a.UserID,
		AgentID:     a.AgentID,
		Summary:     a.Summary,
		LastUpdated: a.LastUpdated,
		Entries:     make([]*storage.Entry, len(a.Entries)),
	}
	for i, e := range a.Entries {
		agg.Entries[i] = toStorageEntry(e)
	}
	return agg
}

func fromStorageAggregate(a *storage.Aggregate) *core.MemoryAggregate {
	agg := &core.MemoryAggregate{
		UserID:      a.UserID,
		AgentID:     a.AgentID,
		Summary:     a.Summary,
		LastUpdated: a.LastUpdated,
		Entries:     make([]*core.MemoryEntry, len(a.Entries)),
	}
	for i, e := range a.Entries {
		agg.Entries[i] = fromStorageEntry(e)
	}
	return agg
}

func toStorageModeration(r *core.ModerationRecord) *storage.ModerationRecord {
	return &storage.ModerationRecord{
		ID:           r.ID,
		Content:      r.Content,
		From:         r.From,
		To:           r.To,
		MatchedTerms: r.MatchedTerms,
		Timestamp:    r.Timestamp,
	}
}

func fromStorageModeration(r *storage.ModerationRecord) *core.ModerationRecord {
	return &core.ModerationRecord{
		ID:           r.ID,
		Content:      r.Content,
		From:         r.From,
		To:           r.To,
		MatchedTerms: r.MatchedTerms,
		Timestamp:    r.Timestamp,
	}
}
