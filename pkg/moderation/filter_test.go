package moderation_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/agentrelay-go/pkg/core"
	"github.com/agentrelay/agentrelay-go/pkg/moderation"
)

func TestClassifyFlagsWholeWords(t *testing.T) {
	filter := moderation.NewFilter([]string{"dumb", "hate"})

	result, err := filter.Classify("That's a dumb idea")
	require.NoError(t, err)
	assert.True(t, result.Flagged)
	assert.Equal(t, []string{"dumb"}, result.MatchedTerms)
}

func TestClassifyIgnoresSubstringOfWord(t *testing.T) {
	filter := moderation.NewFilter([]string{"class"})

	result, err := filter.Classify("This is a classic example")
	require.NoError(t, err)
	assert.False(t, result.Flagged, "single-word terms match whole tokens only")
	assert.Empty(t, result.MatchedTerms)
}

func TestClassifyCaseInsensitive(t *testing.T) {
	filter := moderation.NewFilter([]string{"hate"})

	result, err := filter.Classify("I HATE this!")
	require.NoError(t, err)
	assert.True(t, result.Flagged)
	assert.Equal(t, []string{"hate"}, result.MatchedTerms)
}

func TestClassifyPunctuationBoundaries(t *testing.T) {
	filter := moderation.NewFilter([]string{"hate"})

	result, err := filter.Classify("hate, actually")
	require.NoError(t, err)
	assert.True(t, result.Flagged, "punctuation delimits tokens")
}

func TestClassifyPhrases(t *testing.T) {
	filter := moderation.NewFilter([]string{"shut up"})

	result, err := filter.Classify("Why don't you just SHUT UP already")
	require.NoError(t, err)
	assert.True(t, result.Flagged)
	assert.Equal(t, []string{"shut up"}, result.MatchedTerms)

	result, err = filter.Classify("The shutters went up")
	require.NoError(t, err)
	assert.False(t, result.Flagged)
}

func TestClassifyMultipleMatchesDeduped(t *testing.T) {
	filter := moderation.NewFilter([]string{"dumb", "hate"})

	result, err := filter.Classify("I hate this dumb, dumb thing and I hate it")
	require.NoError(t, err)
	assert.True(t, result.Flagged)
	assert.Equal(t, []string{"dumb", "hate"}, result.MatchedTerms, "deduplicated and sorted")
}

func TestClassifyCleanContent(t *testing.T) {
	filter := moderation.NewFilter([]string{"dumb", "hate", "shut up"})

	result, err := filter.Classify("Could you review my pull request?")
	require.NoError(t, err)
	assert.False(t, result.Flagged)
	assert.Empty(t, result.MatchedTerms)
}

func TestClassifyEmptyTermSet(t *testing.T) {
	filter := moderation.NewFilter(nil)

	result, err := filter.Classify("anything goes")
	require.NoError(t, err)
	assert.False(t, result.Flagged)
}

func TestClassifyEmptyContent(t *testing.T) {
	filter := moderation.NewFilter([]string{"dumb"})

	_, err := filter.Classify("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrModerationFailed))

	_, err = filter.Classify("   \t\n")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrModerationFailed))
}
