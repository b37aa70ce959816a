package core_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/agentrelay/agentrelay-go/pkg/core"
)

func TestMemoryTypeValid(t *testing.T) {
	for _, mt := range core.MemoryTypes() {
		assert.True(t, mt.Valid(), "type %q should be valid", mt)
	}

	assert.False(t, core.MemoryType("").Valid())
	assert.False(t, core.MemoryType("opinion").Valid())
	assert.False(t, core.MemoryType("Conversation").Valid(), "type matching is case sensitive")
}

func TestClampImportance(t *testing.T) {
	assert.Equal(t, 0.0, core.ClampImportance(-0.2))
	assert.Equal(t, 1.0, core.ClampImportance(1.5))
	assert.Equal(t, 0.5, core.ClampImportance(0.5))
	assert.Equal(t, 0.0, core.ClampImportance(0.0))
	assert.Equal(t, 1.0, core.ClampImportance(1.0))
}

func TestEntriesOfType(t *testing.T) {
	agg := &core.MemoryAggregate{
		UserID:  "u1",
		AgentID: "a1",
		Entries: []*core.MemoryEntry{
			{ID: 1, Type: core.MemoryTypeConversation, Content: "first"},
			{ID: 2, Type: core.MemoryTypeFact, Content: "fact"},
			{ID: 3, Type: core.MemoryTypeConversation, Content: "second"},
		},
	}

	conversations := agg.EntriesOfType(core.MemoryTypeConversation)
	assert.Len(t, conversations, 2)
	assert.Equal(t, int64(1), conversations[0].ID, "insertion order preserved")
	assert.Equal(t, int64(3), conversations[1].ID)

	assert.Empty(t, agg.EntriesOfType(core.MemoryTypeSkill))
}

func TestOpError(t *testing.T) {
	err := core.WrapError("AddEntry", core.ErrInvalidMemoryType)

	assert.EqualError(t, err, "agentrelay: AddEntry: invalid memory type")
	assert.True(t, errors.Is(err, core.ErrInvalidMemoryType))

	var opErr *core.OpError
	assert.True(t, errors.As(err, &opErr))
	assert.Equal(t, "AddEntry", opErr.Op)
}

func TestWrapErrorNil(t *testing.T) {
	assert.NoError(t, core.WrapError("Op", nil))
}

func TestEnvelopeDefaults(t *testing.T) {
	env := &core.Envelope{
		From:    "user-gateway",
		To:      "agent-1",
		UserID:  "u1",
		Content: "hello",
	}
	assert.Empty(t, env.ID, "id is assigned at dispatch")
	assert.Empty(t, env.ConversationID)
}

func TestModerationRecordFields(t *testing.T) {
	now := time.Now()
	rec := &core.ModerationRecord{
		ID:           "rec-1",
		Content:      "flagged text",
		From:         "a",
		To:           "b",
		MatchedTerms: []string{"flagged"},
		Timestamp:    now,
	}
	assert.Equal(t, now, rec.Timestamp)
	assert.Equal(t, []string{"flagged"}, rec.MatchedTerms)
}
