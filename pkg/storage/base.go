// Package storage defines the persistence interface for memory aggregates
// and the moderation record stream.
//
// Types here mirror the core package shapes to avoid an import cycle, since
// core configuration selects storage backends. Backends persist one row per
// (user_id, agent_id) aggregate with the entries embedded in it; entries have
// no independent identity at the storage layer.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports a missing aggregate. Backends wrap it so callers can
// tell a missing key from a genuine persistence failure.
var ErrNotFound = errors.New("aggregate not found")

// Entry mirrors core.MemoryEntry for persistence.
type Entry struct {
	ID           int64                  `json:"id"`
	Type         string                 `json:"type"`
	Content      string                 `json:"content"`
	Importance   float64                `json:"importance"`
	CreatedAt    time.Time              `json:"created_at"`
	LastAccessed time.Time              `json:"last_accessed"`
	AccessCount  int                    `json:"access_count"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Aggregate mirrors core.MemoryAggregate for persistence.
type Aggregate struct {
	UserID      string    `json:"user_id"`
	AgentID     string    `json:"agent_id"`
	Entries     []*Entry  `json:"entries"`
	Summary     string    `json:"summary,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

// ModerationRecord mirrors core.ModerationRecord for persistence.
type ModerationRecord struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	MatchedTerms []string  `json:"matched_terms"`
	Timestamp    time.Time `json:"timestamp"`
}

// ListModerationOptions filters moderation stream reads.
type ListModerationOptions struct {
	// From filters records by sender when non-empty.
	From string

	// To filters records by recipient when non-empty.
	To string

	// Limit caps the number of returned records (0 = no cap).
	Limit int
}

// AggregateStore is the persistence interface all backends implement.
//
// GetOrCreate must be atomic with respect to concurrent callers for the same
// key: exactly one aggregate may exist per (userID, agentID) pair, and racing
// creators must both observe that one aggregate. Save replaces the stored
// aggregate document in one atomic write, so readers never observe a
// partially-appended entry.
type AggregateStore interface {
	// GetOrCreate returns the aggregate for the key, creating an empty one
	// if none exists.
	GetOrCreate(ctx context.Context, userID, agentID string) (*Aggregate, error)

	// Get returns the aggregate for the key, or an error wrapping a
	// not-found condition if it does not exist.
	Get(ctx context.Context, userID, agentID string) (*Aggregate, error)

	// Save atomically replaces the stored aggregate for (agg.UserID,
	// agg.AgentID).
	Save(ctx context.Context, agg *Aggregate) error

	// AppendModeration appends one record to the moderation stream.
	AppendModeration(ctx context.Context, rec *ModerationRecord) error

	// ListModeration reads the moderation stream, newest first.
	ListModeration(ctx context.Context, opts *ListModerationOptions) ([]*ModerationRecord, error)

	// Close releases backend resources.
	Close() error
}
