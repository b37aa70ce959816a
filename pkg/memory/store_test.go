package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/agentrelay-go/pkg/core"
	"github.com/agentrelay/agentrelay-go/pkg/memory"
	"github.com/agentrelay/agentrelay-go/pkg/storage"
	"github.com/agentrelay/agentrelay-go/pkg/storage/inmemory"
)

func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	store, err := memory.NewStore(inmemory.NewStore())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAddEntry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry, err := store.AddEntry(ctx, "u1", "a1", core.MemoryTypeFact, "lives in Lisbon",
		core.WithImportance(0.8),
		core.WithMetadata(map[string]interface{}{"source": "profile"}))
	require.NoError(t, err)

	assert.NotZero(t, entry.ID)
	assert.Equal(t, core.MemoryTypeFact, entry.Type)
	assert.Equal(t, 0.8, entry.Importance)
	assert.Equal(t, 0, entry.AccessCount)
	assert.Equal(t, entry.CreatedAt, entry.LastAccessed)

	agg, err := store.GetOrCreate(ctx, "u1", "a1")
	require.NoError(t, err)
	require.Len(t, agg.Entries, 1)
	assert.Equal(t, "lives in Lisbon", agg.Entries[0].Content)
}

func TestAddEntryDefaultImportance(t *testing.T) {
	store := newTestStore(t)

	entry, err := store.AddEntry(context.Background(), "u1", "a1", core.MemoryTypeFact, "x")
	require.NoError(t, err)
	assert.Equal(t, core.DefaultImportance, entry.Importance)
}

func TestAddEntryClampsImportance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	high, err := store.AddEntry(ctx, "u1", "a1", core.MemoryTypeFact, "too high",
		core.WithImportance(1.5))
	require.NoError(t, err)
	assert.Equal(t, 1.0, high.Importance)

	low, err := store.AddEntry(ctx, "u1", "a1", core.MemoryTypeFact, "too low",
		core.WithImportance(-0.2))
	require.NoError(t, err)
	assert.Equal(t, 0.0, low.Importance)
}

func TestAddEntryInvalidType(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.AddEntry(ctx, "u1", "a1", core.MemoryType("opinion"), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInvalidMemoryType))

	// Nothing was appended: the aggregate does not even exist yet.
	err = store.View(ctx, "u1", "a1", func(agg *core.MemoryAggregate) error { return nil })
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestViewMissingAggregate(t *testing.T) {
	store := newTestStore(t)

	err := store.View(context.Background(), "ghost", "agent", func(agg *core.MemoryAggregate) error {
		t.Fatal("fn must not run for a missing aggregate")
		return nil
	})
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestConcurrentGetOrCreate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := store.GetOrCreate(ctx, "u1", "a1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	agg, err := store.GetOrCreate(ctx, "u1", "a1")
	require.NoError(t, err)
	assert.Empty(t, agg.Entries, "racing creators observe one empty aggregate")
}

func TestConcurrentAddEntry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := store.AddEntry(ctx, "u1", "a1", core.MemoryTypeFact, "concurrent")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	agg, err := store.GetOrCreate(ctx, "u1", "a1")
	require.NoError(t, err)
	assert.Len(t, agg.Entries, n, "no append may be lost")
}

func TestStorePreference(t *testing.T) {
	store := newTestStore(t)

	entry, err := store.StorePreference(context.Background(), "u1", "a1", "music", "jazz", 0.9)
	require.NoError(t, err)

	assert.Equal(t, core.MemoryTypePreference, entry.Type)
	assert.Equal(t, "music: jazz", entry.Content)
	assert.Equal(t, 0.9, entry.Importance)
	assert.Equal(t, "music", entry.Metadata["preference"])
}

func TestStoreFact(t *testing.T) {
	store := newTestStore(t)

	entry, err := store.StoreFact(context.Background(), "u1", "a1", "works remotely", "onboarding", 0.7)
	require.NoError(t, err)

	assert.Equal(t, core.MemoryTypeFact, entry.Type)
	assert.Equal(t, "works remotely", entry.Content)
	assert.Equal(t, "onboarding", entry.Metadata["source"])
}

func TestStoreConversation(t *testing.T) {
	store := newTestStore(t)

	entry, err := store.StoreConversation(context.Background(), "u1", "a1",
		"What's the weather?", "Sunny all week.", map[string]interface{}{"conversation_id": "c1"})
	require.NoError(t, err)

	assert.Equal(t, core.MemoryTypeConversation, entry.Type)
	assert.Equal(t, core.DefaultImportance, entry.Importance)

	user, agent := memory.DecodeConversation(entry.Content)
	assert.Equal(t, "What's the weather?", user)
	assert.Equal(t, "Sunny all week.", agent)
}

func TestDecodeConversationForeignContent(t *testing.T) {
	user, agent := memory.DecodeConversation("free-form note")
	assert.Equal(t, "free-form note", user)
	assert.Empty(t, agent)
}

func TestSetSummary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetSummary(ctx, "u1", "a1", "rolling summary"))

	agg, err := store.GetOrCreate(ctx, "u1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "rolling summary", agg.Summary)
	assert.False(t, agg.LastUpdated.IsZero())
}

func TestModerationStream(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordModeration(ctx, &core.ModerationRecord{
		ID:           "rec-1",
		Content:      "flagged text",
		From:         "gateway",
		To:           "a1",
		MatchedTerms: []string{"flagged"},
	}))

	records, err := store.ModerationRecords(ctx, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "flagged text", records[0].Content)
	assert.Equal(t, []string{"flagged"}, records[0].MatchedTerms)
}

// brokenStore simulates a backend outage: every read fails with a
// connection error, never a not-found.
type brokenStore struct {
	storage.AggregateStore
}

func (brokenStore) Get(ctx context.Context, userID, agentID string) (*storage.Aggregate, error) {
	return nil, errors.New("dial tcp 10.0.0.1:5432: connection refused")
}

func TestViewSurfacesBackendFailure(t *testing.T) {
	store, err := memory.NewStore(brokenStore{})
	require.NoError(t, err)

	err = store.View(context.Background(), "u1", "a1", func(agg *core.MemoryAggregate) error {
		t.Fatal("fn must not run when the backend fails")
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrStorageOperation), "a backend outage is a storage error")
	assert.False(t, errors.Is(err, core.ErrNotFound), "an outage must not look like a missing aggregate")
}

func TestUpdateExistingSurfacesBackendFailure(t *testing.T) {
	store, err := memory.NewStore(brokenStore{})
	require.NoError(t, err)

	_, err = store.UpdateExisting(context.Background(), "u1", "a1", func(agg *core.MemoryAggregate) error {
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrStorageOperation))
	assert.False(t, errors.Is(err, core.ErrNotFound))
}

func TestUpdateExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// A key that was never written to stays absent.
	_, err := store.UpdateExisting(ctx, "ghost", "agent", func(agg *core.MemoryAggregate) error {
		t.Fatal("fn must not run for a missing aggregate")
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNotFound))
	err = store.View(ctx, "ghost", "agent", func(agg *core.MemoryAggregate) error { return nil })
	assert.True(t, errors.Is(err, core.ErrNotFound), "the failed update must not create the aggregate")

	// An existing aggregate is mutated and persisted.
	_, err = store.AddEntry(ctx, "u1", "a1", core.MemoryTypeFact, "x")
	require.NoError(t, err)
	_, err = store.UpdateExisting(ctx, "u1", "a1", func(agg *core.MemoryAggregate) error {
		agg.Summary = "updated"
		return nil
	})
	require.NoError(t, err)

	agg, err := store.GetOrCreate(ctx, "u1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "updated", agg.Summary)
}

func TestUpdateRollbackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.AddEntry(ctx, "u1", "a1", core.MemoryTypeFact, "kept")
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = store.Update(ctx, "u1", "a1", func(agg *core.MemoryAggregate) error {
		agg.Entries = nil
		return boom
	})
	assert.True(t, errors.Is(err, boom))

	agg, err := store.GetOrCreate(ctx, "u1", "a1")
	require.NoError(t, err)
	assert.Len(t, agg.Entries, 1, "a failed update must not persist")
}
