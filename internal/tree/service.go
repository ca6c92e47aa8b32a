package tree

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pkm-assistant/internal/config"
	"pkm-assistant/internal/domain"
	"pkm-assistant/internal/store/markdownindex"
)

// Store is the subset of relational.Store the Tree Builder depends on.
type Store interface {
	FindCandidateParents(urlDomain string, before time.Time, window time.Duration) ([]domain.Visit, error)
	FindTreeForVisit(visitID string) (string, error)
	CreateTree(treeID, headVisitID string) error
	AddTreeNode(treeID, visitID, parentID string) error
	GetTree(treeID string) (*domain.Tree, error)
	SetVisitTree(visitID, treeID string) error
	GetPageAnalysis(visitID string) (*domain.PageAnalysis, error)
	GetTreeIntentions(treeID string) (*domain.TreeIntentions, error)
}

// Index is the subset of markdownindex.Index the Tree Builder writes
// through, keyed by the tree's head node per spec.md §4.4's head-match rule.
type Index interface {
	Upsert(ctx context.Context, entry markdownindex.Entry) error
}

// Service resolves tree membership (SPEC_FULL.md §13 decision 1), persists
// the resulting node, and rewrites the tree's markdown section.
type Service struct {
	store  Store
	index  Index
	window time.Duration
}

// NewService constructs a tree Service.
func NewService(store Store, index Index, cfg config.TreeConfig) *Service {
	window := cfg.MembershipWindow
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &Service{store: store, index: index, window: window}
}

// Assign resolves which tree visit belongs to — creating one if none fits —
// attaches it under its resolved parent, and returns the tree id.
//
// Membership: a visit joins the most recently active tree sharing its
// registrable domain whose newest member loaded within the membership
// window, unless the visit's referrer matches a member of a different
// active tree, in which case the referrer wins.
func (s *Service) Assign(ctx context.Context, visit domain.Visit) (string, error) {
	domainKey := registrableDomain(visit.URL)
	candidates, err := s.store.FindCandidateParents(domainKey, visit.PageLoadedAt, s.window)
	if err != nil {
		return "", fmt.Errorf("find candidate parents: %w", err)
	}

	treeID := s.pickTree(visit, candidates)
	isNew := treeID == ""
	if isNew {
		treeID = visit.ID
	}

	members := toMembers(candidates)
	members = append(members, toMember(visit))
	parentID := ResolveParent(toMember(visit), members)

	if isNew {
		if err := s.store.CreateTree(treeID, visit.ID); err != nil {
			return "", fmt.Errorf("create tree: %w", err)
		}
	}
	if err := s.store.AddTreeNode(treeID, visit.ID, parentID); err != nil {
		return "", fmt.Errorf("add tree node: %w", err)
	}
	if err := s.store.SetVisitTree(visit.ID, treeID); err != nil {
		return "", fmt.Errorf("set visit tree: %w", err)
	}

	return treeID, nil
}

// pickTree returns the tree id visit should join given its candidate
// neighbours, or "" if none fit and a new tree should be created.
func (s *Service) pickTree(visit domain.Visit, candidates []domain.Visit) string {
	if visit.HasReferrer() {
		for _, c := range candidates {
			if c.URL == visit.Referrer && c.TreeID != "" {
				return c.TreeID
			}
		}
	}
	// candidates are ordered most-recent-first (FindCandidateParents); the
	// first one carrying a tree id is the most recently active tree.
	for _, c := range candidates {
		if c.TreeID != "" {
			return c.TreeID
		}
	}
	return ""
}

// Publish rebuilds treeID's full member list, recomputes its deterministic
// structure via Build, and upserts its head node into the markdown index's
// single "## Webpages" section (spec.md §6), keyed on the head node (spec.md
// §4.4's head-match rule). Callers must invoke Publish only after any
// tree-intentions computation for treeID has been persisted (spec.md §4.8
// step 6 runs strictly after step 5), so the bullet's Intentions child line
// reflects the latest computed intent rather than a stale or missing one.
func (s *Service) Publish(ctx context.Context, treeID string) error {
	stored, err := s.store.GetTree(treeID)
	if err != nil {
		return err
	}
	if stored == nil {
		return fmt.Errorf("tree %s vanished after write", treeID)
	}

	built := Build(treeID, membersOf(stored))
	head := headOf(built)
	if head == nil {
		return nil
	}

	entry := markdownindex.Entry{
		URL:      head.URL,
		LoadedAt: head.PageLoadedAt,
		Title:    head.URL,
		Referrer: head.Referrer,
	}

	if analysis, err := s.store.GetPageAnalysis(head.VisitID); err != nil {
		return fmt.Errorf("get page analysis for head %s: %w", head.VisitID, err)
	} else if analysis != nil {
		if analysis.Title != "" {
			entry.Title = analysis.Title
		}
		entry.Summary = analysis.Summary
	}

	if intentions, err := s.store.GetTreeIntentions(treeID); err != nil {
		return fmt.Errorf("get tree intentions %s: %w", treeID, err)
	} else if intentions != nil {
		entry.Intentions = intentions.ByVisitID[head.VisitID]
	}

	return s.index.Upsert(ctx, entry)
}

// Members returns treeID's current members in load-time order, for the
// Reconciliation Workflow's tree-intentions step (spec.md §4.8 step 5).
func (s *Service) Members(treeID string) ([]domain.TreeMember, error) {
	t, err := s.store.GetTree(treeID)
	if err != nil {
		return nil, fmt.Errorf("get tree %s: %w", treeID, err)
	}
	if t == nil {
		return nil, nil
	}
	members := membersOf(t)
	sortMembersByLoadTime(members)
	return members, nil
}

func sortMembersByLoadTime(members []domain.TreeMember) {
	for i := 1; i < len(members); i++ {
		for j := i; j > 0 && members[j].PageLoadedAt.Before(members[j-1].PageLoadedAt); j-- {
			members[j], members[j-1] = members[j-1], members[j]
		}
	}
}

func membersOf(t *domain.Tree) []domain.TreeMember {
	out := make([]domain.TreeMember, 0, len(t.Nodes))
	for _, n := range t.Nodes {
		out = append(out, n.TreeMember)
	}
	return out
}

func headOf(t domain.Tree) *domain.TreeMember {
	for i := range t.Nodes {
		if t.Nodes[i].VisitID == t.HeadVisitID {
			return &t.Nodes[i].TreeMember
		}
	}
	return nil
}

func toMember(v domain.Visit) domain.TreeMember {
	return domain.TreeMember{
		VisitID:      v.ID,
		URL:          v.URL,
		PageLoadedAt: v.PageLoadedAt,
		Referrer:     v.Referrer,
		ReferrerAt:   v.ReferrerTimestamp,
	}
}

func toMembers(visits []domain.Visit) []domain.TreeMember {
	out := make([]domain.TreeMember, 0, len(visits))
	for _, v := range visits {
		out = append(out, toMember(v))
	}
	return out
}

// registrableDomain extracts a best-effort eTLD+1 from a URL's host: the
// last two dot-separated labels. No example in the retrieval pack imports a
// public-suffix library, so this stays on strings rather than
// pulling one in unused elsewhere (documented in DESIGN.md).
func registrableDomain(rawURL string) string {
	host := rawURL
	if i := strings.Index(rawURL, "://"); i >= 0 {
		host = rawURL[i+3:]
	}
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if i := strings.LastIndex(host, "@"); i >= 0 {
		host = host[i+1:]
	}
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}

	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	return strings.Join(labels[len(labels)-2:], ".")
}
