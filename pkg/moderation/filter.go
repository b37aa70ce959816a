// Package moderation provides a stateless scanner that classifies message
// text against a configured disallowed-term set.
//
// Single-word terms match whole tokens only, so "classic" never trips on
// "ass". Multi-word terms match as case-insensitive substrings of the raw
// text, since tokenization would split them. The filter keeps no state and
// has no side effects; dispositions (block, annotate, log) are the
// caller's decision.
package moderation

import (
	"sort"
	"strings"
	"unicode"

	"github.com/agentrelay/agentrelay-go/pkg/core"
)

// Result is the outcome of classifying one text.
type Result struct {
	// Flagged is true when at least one disallowed term matched.
	Flagged bool

	// MatchedTerms lists the matching terms, deduplicated and sorted.
	MatchedTerms []string
}

// Filter scans text for disallowed terms.
type Filter struct {
	words   map[string]struct{}
	phrases []string
}

// NewFilter builds a filter from the configured term set. Terms are
// normalized to lower case; empty terms are ignored.
func NewFilter(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if strings.ContainsFunc(term, unicode.IsSpace) {
			f.phrases = append(f.phrases, term)
		} else {
			f.words[term] = struct{}{}
		}
	}
	return f
}

// Classify scans text and reports which disallowed terms it contains.
// Empty or all-whitespace input cannot be evaluated and fails with a
// moderation error; the dispatcher treats that as not flagged (fail open)
// and logs it.
func (f *Filter) Classify(text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, core.WrapError("Classify", core.ErrModerationFailed)
	}

	lowered := strings.ToLower(text)
	matched := make(map[string]struct{})

	for _, token := range tokenize(lowered) {
		if _, ok := f.words[token]; ok {
			matched[token] = struct{}{}
		}
	}

	for _, phrase := range f.phrases {
		if strings.Contains(lowered, phrase) {
			matched[phrase] = struct{}{}
		}
	}

	if len(matched) == 0 {
		return Result{}, nil
	}

	terms := make([]string, 0, len(matched))
	for term := range matched {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	return Result{Flagged: true, MatchedTerms: terms}, nil
}

// tokenize splits text on anything that is not a letter, digit or
// apostrophe. The apostrophe keeps contractions ("that's") intact as single
// tokens.
func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
