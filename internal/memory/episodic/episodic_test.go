package episodic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkm-assistant/internal/domain"
	"pkm-assistant/internal/store/vector"
)

type fakeStore struct {
	episodes  map[string]domain.EpisodicMemory
	corrected map[string]domain.UserCorrection
}

func newFakeStore() *fakeStore {
	return &fakeStore{episodes: map[string]domain.EpisodicMemory{}, corrected: map[string]domain.UserCorrection{}}
}

func (f *fakeStore) SaveEpisode(m domain.EpisodicMemory) error {
	f.episodes[m.ID] = m
	return nil
}

func (f *fakeStore) AddUserCorrection(episodeID string, correction domain.UserCorrection) error {
	e := f.episodes[episodeID]
	e.Correction = &correction
	f.episodes[episodeID] = e
	return nil
}

func (f *fakeStore) FindByDomain(domainName string) ([]domain.EpisodicMemory, error) {
	var out []domain.EpisodicMemory
	for _, e := range f.episodes {
		if e.Domain == domainName {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) AllEpisodes() ([]domain.EpisodicMemory, error) {
	var out []domain.EpisodicMemory
	for _, e := range f.episodes {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeStore) Statistics() (domain.EpisodicStatistics, error) {
	return domain.EpisodicStatistics{}, nil
}

type noopVectorStore struct{}

func (noopVectorStore) Upsert(context.Context, vector.Namespace, string, string, map[string]string) error {
	return nil
}

func (noopVectorStore) Query(context.Context, vector.Namespace, string, int) ([]vector.Match, error) {
	return nil, nil
}

func TestStoreEpisodeAssignsIDAndDomain(t *testing.T) {
	store := newFakeStore()
	mem := New(store, noopVectorStore{}, func() string { return "gen-1" })

	id, err := mem.StoreEpisode(context.Background(), domain.EpisodicMemory{URL: "https://a.com/x"}, "content")
	require.NoError(t, err)
	assert.Equal(t, "gen-1", id)
	assert.Equal(t, "a.com", store.episodes["gen-1"].Domain)
}

func TestGetSimilarDecisionsFiltersByPageTypeAndDecision(t *testing.T) {
	store := newFakeStore()
	store.episodes["e1"] = domain.EpisodicMemory{ID: "e1", Domain: "a.com", PageType: "knowledge", Correction: &domain.UserCorrection{CorrectedDecision: true}}
	store.episodes["e2"] = domain.EpisodicMemory{ID: "e2", Domain: "a.com", PageType: "knowledge", Correction: &domain.UserCorrection{CorrectedDecision: false}}
	store.episodes["e3"] = domain.EpisodicMemory{ID: "e3", Domain: "a.com", PageType: "other", Correction: &domain.UserCorrection{CorrectedDecision: true}}
	mem := New(store, noopVectorStore{}, func() string { return "" })

	accepted, err := mem.GetSimilarDecisions("https://a.com/x", "knowledge", true)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, "e1", accepted[0].ID)
}

func TestBoostComputesWeightedDirection(t *testing.T) {
	assert.InDelta(t, 0.2, Boost(5, 0), 1e-9)
	assert.InDelta(t, -0.2, Boost(0, 5), 1e-9)
	assert.InDelta(t, 0, Boost(0, 0), 1e-9)
	assert.InDelta(t, 0.04, Boost(3, 2), 1e-9)
}

func TestDomainCorrectionCountsIgnoresPageTypeAndUncorrected(t *testing.T) {
	store := newFakeStore()
	store.episodes["e1"] = domain.EpisodicMemory{ID: "e1", Domain: "a.com", PageType: "knowledge", Correction: &domain.UserCorrection{CorrectedDecision: false}}
	store.episodes["e2"] = domain.EpisodicMemory{ID: "e2", Domain: "a.com", PageType: "other", Correction: &domain.UserCorrection{CorrectedDecision: false}}
	store.episodes["e3"] = domain.EpisodicMemory{ID: "e3", Domain: "a.com", PageType: "knowledge", Correction: &domain.UserCorrection{CorrectedDecision: true}}
	store.episodes["e4"] = domain.EpisodicMemory{ID: "e4", Domain: "a.com", PageType: "knowledge"}
	mem := New(store, noopVectorStore{}, func() string { return "" })

	accepted, rejected, err := mem.DomainCorrectionCounts("https://a.com/x")
	require.NoError(t, err)
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 2, rejected)
}

func TestSimilarCorrectionOverrideRequiresAgreementAndContradiction(t *testing.T) {
	fires, decision := SimilarCorrectionOverride(0, 2, true)
	assert.True(t, fires)
	assert.False(t, decision)

	fires, decision = SimilarCorrectionOverride(2, 0, false)
	assert.True(t, fires)
	assert.True(t, decision)

	fires, _ = SimilarCorrectionOverride(1, 1, true)
	assert.False(t, fires, "below agreement threshold")

	fires, _ = SimilarCorrectionOverride(0, 2, false)
	assert.False(t, fires, "agreement with base decision, not against it")
}

func TestDomainCorrectionOverrideRequiresCountAndRatio(t *testing.T) {
	fires, decision, boost := DomainCorrectionOverride(0, 3)
	assert.True(t, fires)
	assert.False(t, decision)
	assert.InDelta(t, -0.2, boost, 1e-9)

	fires, decision, boost = DomainCorrectionOverride(3, 0)
	assert.True(t, fires)
	assert.True(t, decision)
	assert.InDelta(t, 0.2, boost, 1e-9)

	fires, _, _ = DomainCorrectionOverride(1, 1)
	assert.False(t, fires, "below minimum domain correction count")

	fires, _, _ = DomainCorrectionOverride(2, 1)
	assert.False(t, fires, "ratio does not exceed 2:1")
}
