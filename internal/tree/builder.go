// Package tree implements the Tree Builder (spec.md §4.4): given a set of
// Visits believed to belong to one tree, it produces a single rooted tree
// ordered by load time, with edges reflecting referrer relationships.
//
// Tree membership itself — which visits share a tree — is resolved by
// Service using the relational store's domain/window query
// (SPEC_FULL.md §13 decision 1); Build below only guarantees that, given a
// member list, the resulting structure is deterministic, matching spec.md
// §4.4's explicit delegation of membership to the store.
package tree

import (
	"sort"

	"pkm-assistant/internal/domain"
)

// ResolveParent finds m's parent among existing: the member whose URL
// equals m's referrer and whose PageLoadedAt is the greatest such timestamp
// ≤ m's ReferrerAt. Ties are broken by larger timestamp first (already the
// selection criterion), then by VisitID in lexicographic order. Returns ""
// if no existing member matches.
func ResolveParent(m domain.TreeMember, existing []domain.TreeMember) string {
	if m.Referrer == "" {
		return ""
	}

	var candidates []domain.TreeMember
	for _, e := range existing {
		if e.URL == m.Referrer && !e.PageLoadedAt.After(m.ReferrerAt) {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return ""
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].PageLoadedAt.Equal(candidates[j].PageLoadedAt) {
			return candidates[i].PageLoadedAt.After(candidates[j].PageLoadedAt)
		}
		return candidates[i].VisitID < candidates[j].VisitID
	})
	return candidates[0].VisitID
}

// Build assembles a deterministic Tree from a flat member list. Each
// member's parent is resolved independently via ResolveParent; members
// with no resolvable parent become additional roots of the same tree
// container (a forest), which is then wrapped under a synthetic head equal
// to the earliest root — spec.md §4.4's forest rule. When there is exactly
// one root, that root is the head and no synthetic wrapping is needed.
func Build(treeID string, members []domain.TreeMember) domain.Tree {
	nodes := make([]domain.TreeNode, 0, len(members))
	var roots []domain.TreeMember

	for _, m := range members {
		parentID := ResolveParent(m, members)
		nodes = append(nodes, domain.TreeNode{TreeMember: m, ParentID: parentID})
		if parentID == "" {
			roots = append(roots, m)
		}
	}

	sort.Slice(roots, func(i, j int) bool {
		if !roots[i].PageLoadedAt.Equal(roots[j].PageLoadedAt) {
			return roots[i].PageLoadedAt.Before(roots[j].PageLoadedAt)
		}
		return roots[i].VisitID < roots[j].VisitID
	})

	head := treeID
	if len(roots) > 0 {
		head = roots[0].VisitID
	}

	return domain.Tree{ID: treeID, HeadVisitID: head, Nodes: nodes}
}
