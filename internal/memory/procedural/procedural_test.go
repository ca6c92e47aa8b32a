package procedural

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkm-assistant/internal/domain"
)

type fakeStore struct {
	rules      map[string]domain.ProceduralRule
	disabled   map[string]bool
	executions []domain.RuleExecution
}

func newFakeStore(rules ...domain.ProceduralRule) *fakeStore {
	f := &fakeStore{rules: map[string]domain.ProceduralRule{}, disabled: map[string]bool{}}
	for _, r := range rules {
		f.rules[r.ID] = r
	}
	return f
}

func (f *fakeStore) SaveRule(r domain.ProceduralRule) error {
	f.rules[r.ID] = r
	return nil
}

func (f *fakeStore) ListEnabledRules() ([]domain.ProceduralRule, error) {
	var out []domain.ProceduralRule
	for _, r := range f.rules {
		if r.Enabled && !f.disabled[r.ID] {
			out = append(out, r)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Priority > out[i].Priority ||
				(out[j].Priority == out[i].Priority && out[j].CreatedAt.Before(out[i].CreatedAt)) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (f *fakeStore) DisableRule(ruleID string) error {
	f.disabled[ruleID] = true
	return nil
}

func (f *fakeStore) RecordRuleExecution(e domain.RuleExecution) error {
	f.executions = append(f.executions, e)
	return nil
}

func TestMatchesLeafEquals(t *testing.T) {
	cond := domain.Condition{Field: "page_type", Comparator: domain.ComparatorEquals, Value: "Knowledge"}
	ok, err := Matches(cond, Context{"page_type": "knowledge"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatchesAndShortCircuits(t *testing.T) {
	cond := domain.Condition{Operator: domain.LogicAnd, Subconditions: []domain.Condition{
		{Field: "page_type", Comparator: domain.ComparatorEquals, Value: "knowledge"},
		{Field: "confidence", Comparator: domain.ComparatorGreaterThan, Value: "0.5"},
	}}
	ok, err := Matches(cond, Context{"page_type": "knowledge", "confidence": 0.8})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Matches(cond, Context{"page_type": "knowledge", "confidence": 0.2})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatchesNotNegates(t *testing.T) {
	cond := domain.Condition{Operator: domain.LogicNot, Subconditions: []domain.Condition{
		{Field: "page_type", Comparator: domain.ComparatorEquals, Value: "ads"},
	}}
	ok, err := Matches(cond, Context{"page_type": "knowledge"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatchesMissingFieldFailsComparator(t *testing.T) {
	cond := domain.Condition{Field: "missing.field", Comparator: domain.ComparatorEquals, Value: "x"}
	ok, err := Matches(cond, Context{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatchesDottedPath(t *testing.T) {
	cond := domain.Condition{Field: "content.sample", Comparator: domain.ComparatorContains, Value: "recipe"}
	ctx := Context{"content": map[string]any{"sample": "A Recipe for Bread"}}
	ok, err := Matches(cond, ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatchesInvalidRegexReturnsError(t *testing.T) {
	cond := domain.Condition{Field: "url", Comparator: domain.ComparatorMatches, Value: "("}
	_, err := Matches(cond, Context{"url": "https://a.com"})
	assert.Error(t, err)
}

func TestEvaluateStopsAtFirstRejectAndQuarantinesBadRule(t *testing.T) {
	now := time.Now()
	badRule := domain.ProceduralRule{
		ID: "bad", Priority: 100, Enabled: true, CreatedAt: now,
		Condition: domain.Condition{Field: "url", Comparator: domain.ComparatorMatches, Value: "("},
		Action:    domain.RuleAction{Kind: domain.ActionTag, Value: "x"},
	}
	rejectRule := domain.ProceduralRule{
		ID: "reject", Priority: 50, Enabled: true, CreatedAt: now,
		Condition: domain.Condition{Field: "page_type", Comparator: domain.ComparatorEquals, Value: "ads"},
		Action:    domain.RuleAction{Kind: domain.ActionReject, Value: "ad page"},
	}
	tagRule := domain.ProceduralRule{
		ID: "tag", Priority: 10, Enabled: true, CreatedAt: now,
		Condition: domain.Condition{Field: "page_type", Comparator: domain.ComparatorEquals, Value: "ads"},
		Action:    domain.RuleAction{Kind: domain.ActionTag, Value: "ad"},
	}

	store := newFakeStore(badRule, rejectRule, tagRule)
	engine := New(store, nil)

	actions, err := engine.Evaluate(context.Background(), "v1", Context{"page_type": "ads", "url": "https://a.com"})
	require.NoError(t, err)

	require.Len(t, actions, 1)
	assert.Equal(t, domain.ActionReject, actions[0].Kind)
	assert.True(t, store.disabled["bad"])
}
