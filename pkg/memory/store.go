// Package memory provides the per-(user, agent) memory store: atomic
// get-or-create of aggregates, validated appends, convenience wrappers per
// memory type, and the moderation record stream.
//
// All operations on one aggregate are serialized through a per-key mutex, so
// writes to the same (userID, agentID) pair are mutually exclusive and reads
// never observe a partially-appended entry. Different keys proceed
// concurrently.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/agentrelay/agentrelay-go/pkg/core"
	"github.com/agentrelay/agentrelay-go/pkg/storage"
)

// Store owns persisted memory aggregates.
type Store struct {
	storage storage.AggregateStore
	node    *snowflake.Node

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a memory store on top of the given aggregate store.
func NewStore(st storage.AggregateStore) (*Store, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, core.WrapError("NewStore", err)
	}
	return &Store{
		storage: st,
		node:    node,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// keyLock returns the mutex serializing operations for one aggregate key.
func (s *Store) keyLock(userID, agentID string) *sync.Mutex {
	key := userID + "\x00" + agentID

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// GetOrCreate returns the aggregate for (userID, agentID), creating an empty
// one on first use. Idempotent: concurrent callers for the same key observe
// exactly one aggregate.
func (s *Store) GetOrCreate(ctx context.Context, userID, agentID string) (*core.MemoryAggregate, error) {
	l := s.keyLock(userID, agentID)
	l.Lock()
	defer l.Unlock()

	agg, err := s.storage.GetOrCreate(ctx, userID, agentID)
	if err != nil {
		return nil, core.WrapError("GetOrCreate", fmt.Errorf("%w: %v", core.ErrStorageOperation, err))
	}
	return fromStorageAggregate(agg), nil
}

// Update runs fn against the aggregate under its key lock and persists the
// result in one atomic write. fn receives a private copy; mutations become
// visible only once Save succeeds, so concurrent readers never see a partial
// append. The aggregate's LastUpdated is bumped on every successful update.
func (s *Store) Update(ctx context.Context, userID, agentID string, fn func(*core.MemoryAggregate) error) (*core.MemoryAggregate, error) {
	l := s.keyLock(userID, agentID)
	l.Lock()
	defer l.Unlock()

	stored, err := s.storage.GetOrCreate(ctx, userID, agentID)
	if err != nil {
		return nil, core.WrapError("Update", fmt.Errorf("%w: %v", core.ErrStorageOperation, err))
	}

	agg := fromStorageAggregate(stored)
	if err := fn(agg); err != nil {
		return nil, err
	}
	agg.LastUpdated = time.Now()

	if err := s.storage.Save(ctx, toStorageAggregate(agg)); err != nil {
		return nil, core.WrapError("Update", fmt.Errorf("%w: %v", core.ErrStorageOperation, err))
	}
	return agg, nil
}

// View runs fn against a read-only snapshot of the aggregate. Returns
// core.ErrNotFound if no aggregate exists for the key (aggregates are
// created lazily on first write, never on read). Any other backend failure
// surfaces as a storage error.
func (s *Store) View(ctx context.Context, userID, agentID string, fn func(*core.MemoryAggregate) error) error {
	l := s.keyLock(userID, agentID)
	l.Lock()
	defer l.Unlock()

	stored, err := s.storage.Get(ctx, userID, agentID)
	if err != nil {
		return core.WrapError("View", mapGetError(err))
	}
	return fn(fromStorageAggregate(stored))
}

// UpdateExisting runs fn against the aggregate under its key lock and
// persists the result, like Update, but never creates: a missing aggregate
// fails with core.ErrNotFound and storage stays untouched.
func (s *Store) UpdateExisting(ctx context.Context, userID, agentID string, fn func(*core.MemoryAggregate) error) (*core.MemoryAggregate, error) {
	l := s.keyLock(userID, agentID)
	l.Lock()
	defer l.Unlock()

	stored, err := s.storage.Get(ctx, userID, agentID)
	if err != nil {
		return nil, core.WrapError("UpdateExisting", mapGetError(err))
	}

	agg := fromStorageAggregate(stored)
	if err := fn(agg); err != nil {
		return nil, err
	}
	agg.LastUpdated = time.Now()

	if err := s.storage.Save(ctx, toStorageAggregate(agg)); err != nil {
		return nil, core.WrapError("UpdateExisting", fmt.Errorf("%w: %v", core.ErrStorageOperation, err))
	}
	return agg, nil
}

// mapGetError distinguishes a missing aggregate from a backend failure.
func mapGetError(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return core.ErrNotFound
	}
	return fmt.Errorf("%w: %v", core.ErrStorageOperation, err)
}

// AddEntry validates, constructs and appends a new memory entry, then
// persists the aggregate.
//
// The type must belong to the closed MemoryType set; anything else fails
// with a validation error and nothing is appended. Importance is clamped to
// [0, 1] and defaults to core.DefaultImportance.
func (s *Store) AddEntry(ctx context.Context, userID, agentID string, t core.MemoryType, content string, opts ...core.AddOption) (*core.MemoryEntry, error) {
	if !t.Valid() {
		return nil, core.WrapError("AddEntry", fmt.Errorf("%w: %q", core.ErrInvalidMemoryType, t))
	}

	o := core.ApplyAddOptions(opts)
	now := time.Now()

	entry := &core.MemoryEntry{
		ID:           s.node.Generate().Int64(),
		Type:         t,
		Content:      content,
		Importance:   core.ClampImportance(o.Importance),
		CreatedAt:    now,
		LastAccessed: now,
		AccessCount:  0,
		Metadata:     o.Metadata,
	}

	_, err := s.Update(ctx, userID, agentID, func(agg *core.MemoryAggregate) error {
		agg.Entries = append(agg.Entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// StoreConversation records one user/agent turn pair as a single
// conversation entry. The two turns are serialized into the entry content;
// the conversation id, when known, travels in metadata.
func (s *Store) StoreConversation(ctx context.Context, userID, agentID, userMessage, agentResponse string, metadata map[string]interface{}) (*core.MemoryEntry, error) {
	content := EncodeConversation(userMessage, agentResponse)
	return s.AddEntry(ctx, userID, agentID, core.MemoryTypeConversation, content,
		core.WithMetadata(metadata))
}

// StorePreference records a named user preference.
func (s *Store) StorePreference(ctx context.Context, userID, agentID, name, value string, importance float64) (*core.MemoryEntry, error) {
	content := name + ": " + value
	return s.AddEntry(ctx, userID, agentID, core.MemoryTypePreference, content,
		core.WithImportance(importance),
		core.WithMetadata(map[string]interface{}{"preference": name}))
}

// StoreFact records a factual statement with its source.
func (s *Store) StoreFact(ctx context.Context, userID, agentID, statement, source string, importance float64) (*core.MemoryEntry, error) {
	return s.AddEntry(ctx, userID, agentID, core.MemoryTypeFact, statement,
		core.WithImportance(importance),
		core.WithMetadata(map[string]interface{}{"source": source}))
}

// StoreSkill records a capability statement.
func (s *Store) StoreSkill(ctx context.Context, userID, agentID, description string, importance float64) (*core.MemoryEntry, error) {
	return s.AddEntry(ctx, userID, agentID, core.MemoryTypeSkill, description,
		core.WithImportance(importance))
}

// StoreRelationship records a relationship statement.
func (s *Store) StoreRelationship(ctx context.Context, userID, agentID, statement string, importance float64) (*core.MemoryEntry, error) {
	return s.AddEntry(ctx, userID, agentID, core.MemoryTypeRelationship, statement,
		core.WithImportance(importance))
}

// SetSummary replaces the aggregate's rolling summary.
func (s *Store) SetSummary(ctx context.Context, userID, agentID, summary string) error {
	_, err := s.Update(ctx, userID, agentID, func(agg *core.MemoryAggregate) error {
		agg.Summary = summary
		return nil
	})
	return err
}

// RecordModeration appends one record to the moderation stream. The stream
// is distinct from conversational memory: flagged turns never enter an
// aggregate through this path.
func (s *Store) RecordModeration(ctx context.Context, rec *core.ModerationRecord) error {
	if err := s.storage.AppendModeration(ctx, toStorageModeration(rec)); err != nil {
		return core.WrapError("RecordModeration", fmt.Errorf("%w: %v", core.ErrStorageOperation, err))
	}
	return nil
}

// ModerationRecords reads the moderation stream, newest first.
func (s *Store) ModerationRecords(ctx context.Context, opts *storage.ListModerationOptions) ([]*core.ModerationRecord, error) {
	records, err := s.storage.ListModeration(ctx, opts)
	if err != nil {
		return nil, core.WrapError("ModerationRecords", fmt.Errorf("%w: %v", core.ErrStorageOperation, err))
	}
	out := make([]*core.ModerationRecord, len(records))
	for i, r := range records {
		out[i] = fromStorageModeration(r)
	}
	return out, nil
}

// Close releases the underlying storage.
func (s *Store) Close() error {
	return s.storage.Close()
}

// EncodeConversation serializes a user/agent turn pair into one entry
// content string.
func EncodeConversation(userMessage, agentResponse string) string {
	return "user: " + userMessage + "\nagent: " + agentResponse
}

// DecodeConversation splits a conversation entry content back into its
// user and agent turns. Content not produced by EncodeConversation is
// returned unchanged as the user turn.
func DecodeConversation(content string) (userMessage, agentResponse string) {
	if !strings.HasPrefix(content, "user: ") {
		return content, ""
	}
	rest := strings.TrimPrefix(content, "user: ")
	if idx := strings.Index(rest, "\nagent: "); idx >= 0 {
		return rest[:idx], rest[idx+len("\nagent: "):]
	}
	return rest, ""
}
