package tree

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkm-assistant/internal/config"
	"pkm-assistant/internal/domain"
	"pkm-assistant/internal/store/markdownindex"
)

type fakeStore struct {
	visits     map[string]domain.Visit
	trees      map[string]*domain.Tree
	analyses   map[string]domain.PageAnalysis
	intentions map[string]domain.TreeIntentions
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		visits:     map[string]domain.Visit{},
		trees:      map[string]*domain.Tree{},
		analyses:   map[string]domain.PageAnalysis{},
		intentions: map[string]domain.TreeIntentions{},
	}
}

func (f *fakeStore) FindCandidateParents(urlDomain string, before time.Time, window time.Duration) ([]domain.Visit, error) {
	var out []domain.Visit
	for _, v := range f.visits {
		if registrableDomain(v.URL) != urlDomain {
			continue
		}
		if v.PageLoadedAt.After(before) || v.PageLoadedAt.Before(before.Add(-window)) {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeStore) FindTreeForVisit(visitID string) (string, error) {
	return f.visits[visitID].TreeID, nil
}

func (f *fakeStore) CreateTree(treeID, headVisitID string) error {
	if _, ok := f.trees[treeID]; !ok {
		f.trees[treeID] = &domain.Tree{ID: treeID, HeadVisitID: headVisitID}
	}
	return nil
}

func (f *fakeStore) AddTreeNode(treeID, visitID, parentID string) error {
	v := f.visits[visitID]
	t := f.trees[treeID]
	t.Nodes = append(t.Nodes, domain.TreeNode{TreeMember: toMember(v), ParentID: parentID})
	return nil
}

func (f *fakeStore) GetTree(treeID string) (*domain.Tree, error) {
	return f.trees[treeID], nil
}

func (f *fakeStore) SetVisitTree(visitID, treeID string) error {
	v := f.visits[visitID]
	v.TreeID = treeID
	f.visits[visitID] = v
	return nil
}

func (f *fakeStore) GetPageAnalysis(visitID string) (*domain.PageAnalysis, error) {
	a, ok := f.analyses[visitID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (f *fakeStore) GetTreeIntentions(treeID string) (*domain.TreeIntentions, error) {
	ti, ok := f.intentions[treeID]
	if !ok {
		return nil, nil
	}
	return &ti, nil
}

type fakeIndex struct {
	upserts []markdownindex.Entry
}

func (f *fakeIndex) Upsert(_ context.Context, entry markdownindex.Entry) error {
	f.upserts = append(f.upserts, entry)
	return nil
}

func TestAssignStartsNewTreeWhenNoCandidates(t *testing.T) {
	store := newFakeStore()
	idx := &fakeIndex{}
	svc := NewService(store, idx, config.TreeConfig{MembershipWindow: 30 * time.Minute})

	v := domain.Visit{ID: "v1", URL: "https://example.com/a", PageLoadedAt: time.Now()}
	store.visits[v.ID] = v

	treeID, err := svc.Assign(context.Background(), v)
	require.NoError(t, err)
	assert.Equal(t, "v1", treeID)
	assert.Empty(t, idx.upserts, "Assign must not publish on its own; the workflow publishes after tree intentions are persisted")

	require.NoError(t, svc.Publish(context.Background(), treeID))
	require.Len(t, idx.upserts, 1)
	assert.Equal(t, v.URL, idx.upserts[0].URL)
}

func TestAssignJoinsExistingTreeViaReferrer(t *testing.T) {
	store := newFakeStore()
	idx := &fakeIndex{}
	svc := NewService(store, idx, config.TreeConfig{MembershipWindow: 30 * time.Minute})

	parent := domain.Visit{ID: "p1", URL: "https://example.com/a", PageLoadedAt: time.Now(), TreeID: "p1"}
	store.visits[parent.ID] = parent
	store.trees["p1"] = &domain.Tree{ID: "p1", HeadVisitID: "p1", Nodes: []domain.TreeNode{{TreeMember: toMember(parent)}}}

	child := domain.Visit{
		ID: "c1", URL: "https://example.com/b", PageLoadedAt: parent.PageLoadedAt.Add(time.Minute),
		Referrer: parent.URL, ReferrerTimestamp: parent.PageLoadedAt.Add(time.Minute),
	}
	store.visits[child.ID] = child

	treeID, err := svc.Assign(context.Background(), child)
	require.NoError(t, err)
	assert.Equal(t, "p1", treeID)

	tr := store.trees["p1"]
	require.Len(t, tr.Nodes, 2)
	assert.Equal(t, "p1", tr.Nodes[1].ParentID)
}

func TestPublishUsesPageAnalysisTitleAndSummaryOverURL(t *testing.T) {
	store := newFakeStore()
	idx := &fakeIndex{}
	svc := NewService(store, idx, config.TreeConfig{MembershipWindow: 30 * time.Minute})

	head := domain.Visit{ID: "v1", URL: "https://docs.example.com/intro", PageLoadedAt: time.Now()}
	store.visits[head.ID] = head
	store.trees["v1"] = &domain.Tree{ID: "v1", HeadVisitID: "v1", Nodes: []domain.TreeNode{{TreeMember: toMember(head)}}}
	store.analyses[head.ID] = domain.PageAnalysis{
		VisitID: head.ID, Title: "Intro", Summary: "An introduction to the docs.",
	}
	store.intentions["v1"] = domain.TreeIntentions{
		TreeID: "v1", ByVisitID: map[string][]string{head.ID: {"learning"}}, ComputedAt: time.Now(),
	}

	require.NoError(t, svc.Publish(context.Background(), "v1"))
	require.Len(t, idx.upserts, 1)

	entry := idx.upserts[0]
	assert.Equal(t, "Intro", entry.Title)
	assert.Equal(t, "An introduction to the docs.", entry.Summary)
	assert.Equal(t, []string{"learning"}, entry.Intentions)
}

func TestPublishFallsBackToURLWhenNoPageAnalysis(t *testing.T) {
	store := newFakeStore()
	idx := &fakeIndex{}
	svc := NewService(store, idx, config.TreeConfig{MembershipWindow: 30 * time.Minute})

	head := domain.Visit{ID: "v1", URL: "https://example.com/a", PageLoadedAt: time.Now()}
	store.visits[head.ID] = head
	store.trees["v1"] = &domain.Tree{ID: "v1", HeadVisitID: "v1", Nodes: []domain.TreeNode{{TreeMember: toMember(head)}}}

	require.NoError(t, svc.Publish(context.Background(), "v1"))
	require.Len(t, idx.upserts, 1)
	assert.Equal(t, head.URL, idx.upserts[0].Title)
	assert.Empty(t, idx.upserts[0].Intentions)
}

func TestRegistrableDomainStripsSubdomainAndPath(t *testing.T) {
	assert.Equal(t, "example.com", registrableDomain("https://www.example.com/path?q=1"))
	assert.Equal(t, "example.com", registrableDomain("https://example.com"))
}
