// Package inmemory provides a process-local AggregateStore backed by maps.
//
// Suitable for tests and demos; state is lost on process exit. All methods
// copy aggregates on the way in and out so callers never share memory with
// the store.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentrelay/agentrelay-go/pkg/storage"
)

// Store is a mutex-protected in-memory AggregateStore.
type Store struct {
	mu         sync.RWMutex
	aggregates map[string]*storage.Aggregate // key: userID + "\x00" + agentID
	moderation []*storage.ModerationRecord
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		aggregates: make(map[string]*storage.Aggregate),
	}
}

func key(userID, agentID string) string {
	return userID + "\x00" + agentID
}

// GetOrCreate returns the aggregate for the key, creating an empty one under
// the write lock if none exists. The lock makes the create race safe: racing
// callers observe the same single aggregate.
func (s *Store) GetOrCreate(ctx context.Context, userID, agentID string) (*storage.Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(userID, agentID)
	agg, ok := s.aggregates[k]
	if !ok {
		agg = &storage.Aggregate{UserID: userID, AgentID: agentID}
		s.aggregates[k] = agg
	}
	return copyAggregate(agg), nil
}

// Get returns the aggregate for the key or a not-found error.
func (s *Store) Get(ctx context.Context, userID, agentID string) (*storage.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg, ok := s.aggregates[key(userID, agentID)]
	if !ok {
		return nil, fmt.Errorf("inmemory: aggregate %s/%s: %w", userID, agentID, storage.ErrNotFound)
	}
	return copyAggregate(agg), nil
}

// Save replaces the stored aggregate in one map write.
func (s *Store) Save(ctx context.Context, agg *storage.Aggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.aggregates[key(agg.UserID, agg.AgentID)] = copyAggregate(agg)
	return nil
}

// AppendModeration appends one record to the moderation stream.
func (s *Store) AppendModeration(ctx context.Context, rec *storage.ModerationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	cp.MatchedTerms = append([]string(nil), rec.MatchedTerms...)
	s.moderation = append(s.moderation, &cp)
	return nil
}

// ListModeration returns moderation records newest first.
func (s *Store) ListModeration(ctx context.Context, opts *storage.ListModerationOptions) ([]*storage.ModerationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if opts == nil {
		opts = &storage.ListModerationOptions{}
	}

	var out []*storage.ModerationRecord
	for i := len(s.moderation) - 1; i >= 0; i-- {
		rec := s.moderation[i]
		if opts.From != "" && rec.From != opts.From {
			continue
		}
		if opts.To != "" && rec.To != opts.To {
			continue
		}
		cp := *rec
		cp.MatchedTerms = append([]string(nil), rec.MatchedTerms...)
		out = append(out, &cp)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

func copyAggregate(agg *storage.Aggregate) *storage.Aggregate {
	cp := &storage.Aggregate{
		UserID:      agg.UserID,
		AgentID:     agg.AgentID,
		Summary:     agg.Summary,
		LastUpdated: agg.LastUpdated,
	}
	if agg.Entries != nil {
		cp.Entries = make([]*storage.Entry, len(agg.Entries))
		for i, e := range agg.Entries {
			ec := *e
			if e.Metadata != nil {
				ec.Metadata = make(map[string]interface{}, len(e.Metadata))
				for k, v := range e.Metadata {
					ec.Metadata[k] = v
				}
			}
			cp.Entries[i] = &ec
		}
	}
	return cp
}
