package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkm-assistant/internal/domain"
	"pkm-assistant/internal/llm"
	"pkm-assistant/internal/store/vector"
)

type stubClassifier struct {
	decision bool
	reason   string
}

func (s stubClassifier) Classify(context.Context, domain.Visit, domain.ContentFeatures) (domain.Classification, error) {
	return domain.Classification{FinalDecision: s.decision, DecisionReason: s.reason}, nil
}

type fakeRelational struct {
	analyses  map[string]domain.PageAnalysis
	intentions []domain.TreeIntentions
}

func newFakeRelational() *fakeRelational {
	return &fakeRelational{analyses: map[string]domain.PageAnalysis{}}
}

func (f *fakeRelational) SavePageAnalysis(a domain.PageAnalysis) error {
	f.analyses[a.VisitID] = a
	return nil
}

func (f *fakeRelational) GetPageAnalysis(visitID string) (*domain.PageAnalysis, error) {
	a, ok := f.analyses[visitID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (f *fakeRelational) SaveTreeIntentions(ti domain.TreeIntentions) error {
	f.intentions = append(f.intentions, ti)
	return nil
}

type fakeVectors struct {
	upserted map[string]string
}

func (f *fakeVectors) Upsert(_ context.Context, _ vector.Namespace, id, content string, _ map[string]string) error {
	if f.upserted == nil {
		f.upserted = map[string]string{}
	}
	f.upserted[id] = content
	return nil
}

type fakeTrees struct {
	treeID     string
	members    []domain.TreeMember
	published  []string
}

func (f *fakeTrees) Assign(context.Context, domain.Visit) (string, error) {
	return f.treeID, nil
}

func (f *fakeTrees) Members(string) ([]domain.TreeMember, error) {
	return f.members, nil
}

func (f *fakeTrees) Publish(_ context.Context, treeID string) error {
	f.published = append(f.published, treeID)
	return nil
}

func TestHandleRejectedVisitStopsAfterFilterGate(t *testing.T) {
	client := llm.NewMockClient("m")
	relational := newFakeRelational()
	vectors := &fakeVectors{}
	trees := &fakeTrees{treeID: "t1"}

	wf := New(stubClassifier{decision: false, reason: "ads"}, client, relational, vectors, trees, nil)
	err := wf.Handle(context.Background(), domain.Visit{ID: "v1", URL: "https://a.com", RawContent: "<html></html>"})
	require.NoError(t, err)

	assert.Empty(t, relational.analyses)
	assert.Empty(t, vectors.upserted)
	assert.Empty(t, trees.published)
}

func TestHandleAcceptedVisitPersistsAnalysisAndContent(t *testing.T) {
	client := llm.NewMockClient("m")
	client.QueueCompletion("# Clean Markdown\n\nBody text.")
	client.QueueJSON(map[string]any{"title": "My Page", "summary": "a short summary", "intentions": []string{"learn"}})

	relational := newFakeRelational()
	vectors := &fakeVectors{}
	trees := &fakeTrees{treeID: "v1"}

	wf := New(stubClassifier{decision: true}, client, relational, vectors, trees, nil)
	err := wf.Handle(context.Background(), domain.Visit{ID: "v1", URL: "https://a.com", RawContent: "<html><body>hi</body></html>"})
	require.NoError(t, err)

	require.Contains(t, relational.analyses, "v1")
	assert.Equal(t, "My Page", relational.analyses["v1"].Title)
	assert.Contains(t, vectors.upserted, "v1")
	assert.Equal(t, []string{"v1"}, trees.published)
}

func TestHandleReconcilesTreeIntentionsForMultiMemberTree(t *testing.T) {
	client := llm.NewMockClient("m")
	client.QueueCompletion("# Clean Markdown")
	client.QueueJSON(map[string]any{"title": "Page 2", "summary": "s2", "intentions": []string{"compare"}})
	client.QueueJSON(map[string]any{"1": []string{"research"}, "2": []string{"compare", "decide"}})

	relational := newFakeRelational()
	relational.analyses["v1"] = domain.PageAnalysis{VisitID: "v1", Title: "Page 1", Summary: "s1"}
	vectors := &fakeVectors{}
	trees := &fakeTrees{
		treeID: "t1",
		members: []domain.TreeMember{
			{VisitID: "v1", URL: "https://a.com/1"},
			{VisitID: "v2", URL: "https://a.com/2"},
		},
	}

	wf := New(stubClassifier{decision: true}, client, relational, vectors, trees, nil)
	err := wf.Handle(context.Background(), domain.Visit{ID: "v2", URL: "https://a.com/2", RawContent: "<html></html>"})
	require.NoError(t, err)

	require.Len(t, relational.intentions, 1)
	assert.Equal(t, []string{"research"}, relational.intentions[0].ByVisitID["v1"])
	assert.Equal(t, []string{"compare", "decide"}, relational.intentions[0].ByVisitID["v2"])
	assert.Equal(t, []string{"t1"}, trees.published, "publish must run after tree intentions are persisted")
}
