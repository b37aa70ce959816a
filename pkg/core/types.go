// Package core provides the shared data model, error taxonomy and
// configuration for the agentrelay memory and dispatch pipeline.
package core

import "time"

// MemoryType classifies a memory entry. The set is closed: constructing an
// entry with any other value is a validation error.
type MemoryType string

const (
	// MemoryTypeConversation is a recorded user/agent turn pair.
	MemoryTypeConversation MemoryType = "conversation"

	// MemoryTypePreference is a stated or inferred user preference.
	MemoryTypePreference MemoryType = "preference"

	// MemoryTypeFact is a standalone factual statement about the user or world.
	MemoryTypeFact MemoryType = "fact"

	// MemoryTypeSkill is a capability the user has demonstrated or requested.
	MemoryTypeSkill MemoryType = "skill"

	// MemoryTypeRelationship describes a relation between the user and another party.
	MemoryTypeRelationship MemoryType = "relationship"
)

// Valid reports whether t is one of the known memory types.
func (t MemoryType) Valid() bool {
	switch t {
	case MemoryTypeConversation, MemoryTypePreference, MemoryTypeFact,
		MemoryTypeSkill, MemoryTypeRelationship:
		return true
	}
	return false
}

// MemoryTypes lists all valid memory types. Used by retention to enforce the
// per-type survivor floor.
func MemoryTypes() []MemoryType {
	return []MemoryType{
		MemoryTypeConversation,
		MemoryTypePreference,
		MemoryTypeFact,
		MemoryTypeSkill,
		MemoryTypeRelationship,
	}
}

// DefaultImportance is assigned to entries stored without an explicit
// importance.
const DefaultImportance = 0.5

// MemoryEntry is one atomic memory owned by exactly one aggregate.
//
// Entries are append-only: once stored their position within the aggregate
// never changes. Read queries refresh LastAccessed and AccessCount as an
// observable side effect.
type MemoryEntry struct {
	// ID is the unique identifier of the entry (snowflake).
	ID int64 `json:"id"`

	// Type classifies the entry. Always a valid MemoryType.
	Type MemoryType `json:"type"`

	// Content is the text payload. Conversation entries hold a serialized
	// user-turn/agent-turn pair; other types hold a single statement.
	Content string `json:"content"`

	// Importance ranks the entry's retention priority, always in [0, 1].
	Importance float64 `json:"importance"`

	// CreatedAt is the immutable creation timestamp.
	CreatedAt time.Time `json:"created_at"`

	// LastAccessed is refreshed whenever a read query returns this entry.
	// Invariant: LastAccessed >= CreatedAt.
	LastAccessed time.Time `json:"last_accessed"`

	// AccessCount is incremented on every read that returns this entry.
	// Monotonically non-decreasing.
	AccessCount int `json:"access_count"`

	// Metadata holds auxiliary data (e.g. conversation_id). The pipeline
	// stores and returns it but never interprets the values.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ClampImportance forces v into the valid [0, 1] importance range.
func ClampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// MemoryAggregate holds all memories for one (UserID, AgentID) pair.
//
// The pair is a uniqueness key: at most one aggregate exists per pair, and a
// second get-or-create for the same pair returns the existing aggregate.
// Entries keep insertion order, which is chronological order. Aggregates are
// created lazily on first write and never deleted by this core.
type MemoryAggregate struct {
	// UserID identifies the owning user.
	UserID string `json:"user_id"`

	// AgentID identifies the owning agent.
	AgentID string `json:"agent_id"`

	// Entries is the ordered collection of memories (insertion order).
	Entries []*MemoryEntry `json:"entries"`

	// Summary is an optional rolling summary of the conversation so far.
	Summary string `json:"summary,omitempty"`

	// LastUpdated is bumped by every mutating operation.
	LastUpdated time.Time `json:"last_updated"`
}

// EntriesOfType returns the aggregate's entries of the given type in
// insertion order.
func (a *MemoryAggregate) EntriesOfType(t MemoryType) []*MemoryEntry {
	var out []*MemoryEntry
	for _, e := range a.Entries {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Envelope is one routed message at the dispatcher boundary.
type Envelope struct {
	// ID uniquely identifies the envelope. Assigned at dispatch if empty.
	ID string `json:"id"`

	// From is the sending endpoint.
	From string `json:"from"`

	// To is the receiving agent.
	To string `json:"to"`

	// Content is the message payload.
	Content string `json:"content"`

	// UserID identifies the user on whose behalf the message is sent.
	UserID string `json:"user_id"`

	// ConversationID groups envelopes belonging to one conversation.
	ConversationID string `json:"conversation_id"`

	// Performative is an open tag classifying the communicative intent
	// (e.g. "request"). Consumed opaquely by this core.
	Performative string `json:"performative"`
}

// ModerationRecord is one flagged turn in the append-only moderation stream.
// The stream is kept separate from conversational memory and is intended for
// audit consumption.
type ModerationRecord struct {
	// ID uniquely identifies the record (uuid).
	ID string `json:"id"`

	// Content is the flagged message text.
	Content string `json:"content"`

	// From is the sender of the flagged envelope.
	From string `json:"from"`

	// To is the intended recipient.
	To string `json:"to"`

	// MatchedTerms lists the disallowed terms that matched.
	MatchedTerms []string `json:"matched_terms"`

	// Timestamp is when the turn was flagged.
	Timestamp time.Time `json:"timestamp"`
}

// MemoryStats summarizes an aggregate for the external query surface.
type MemoryStats struct {
	// TotalEntries is the number of entries in the aggregate.
	TotalEntries int `json:"total_entries"`

	// EntriesByType counts entries per memory type.
	EntriesByType map[MemoryType]int `json:"entries_by_type"`

	// AverageImportance is the mean importance across all entries
	// (0 for an empty aggregate).
	AverageImportance float64 `json:"average_importance"`
}

// MemoryOverview is the external memory query surface for one
// (UserID, AgentID) pair: derived stats, the recent conversation window and
// all stored preferences.
type MemoryOverview struct {
	Stats         MemoryStats    `json:"stats"`
	RecentContext []*MemoryEntry `json:"recent_context"`
	Preferences   []*MemoryEntry `json:"preferences"`
}
