package intake

import (
	"context"
	"time"

	"pkm-assistant/internal/domain"
	"pkm-assistant/internal/orphan"
	"pkm-assistant/internal/tabhistory"
)

// RawVisit is the intake payload decoded from the browser companion, before
// referrer resolution against the Tab History Tracker (spec.md §4.1, §4.9).
type RawVisit struct {
	URL               string
	PageLoadedAt      time.Time
	Referrer          string
	ReferrerTimestamp time.Time
	OpenerTabID       string
	TabID             string
	Content           string
}

// ReferrerResolver reconstructs a visit's true referrer from the Tab History
// Tracker, falling back to the Orphan Manager when the opener tab's state
// has not yet arrived (spec.md §4.2's "repairs parent/child ordering").
type ReferrerResolver struct {
	tabs    *tabhistory.Tracker
	orphans *orphan.Manager
}

// NewReferrerResolver constructs a ReferrerResolver over tabs and orphans.
func NewReferrerResolver(tabs *tabhistory.Tracker, orphans *orphan.Manager) *ReferrerResolver {
	return &ReferrerResolver{tabs: tabs, orphans: orphans}
}

// ResolveIncoming turns raw into a domain.Visit ready to enqueue, or holds it
// as an orphan and returns ok=false when its referrer cannot yet be
// determined.
func (r *ReferrerResolver) ResolveIncoming(raw RawVisit, now time.Time) (domain.Visit, bool) {
	visit := toVisit(raw)

	if visit.HasReferrer() {
		return visit, true
	}
	if raw.OpenerTabID == "" {
		// No referrer and no opener to wait on: accept as a tree root.
		return visit, true
	}

	if ref, refAt, _, ok := r.tabs.GetReferrer(raw.OpenerTabID); ok && ref != "" {
		visit.Referrer = ref
		visit.ReferrerTimestamp = refAt
		return visit, true
	}

	r.orphans.Add(visit, raw.OpenerTabID, now)
	return domain.Visit{}, false
}

// Resolve implements queue.OrphanResolver: it re-attempts resolution for an
// orphan the retry ticker picked up, removing it from the pool on success
// and bumping its retry count otherwise.
func (r *ReferrerResolver) Resolve(_ context.Context, o domain.Orphan) (domain.Visit, bool) {
	ref, refAt, _, ok := r.tabs.GetReferrer(o.OpenerTabID)
	if !ok || ref == "" {
		r.orphans.Bump(o.Visit.ID)
		return domain.Visit{}, false
	}

	visit := o.Visit
	visit.Referrer = ref
	visit.ReferrerTimestamp = refAt
	r.orphans.Remove(o.Visit.ID)
	return visit, true
}

func toVisit(raw RawVisit) domain.Visit {
	return domain.Visit{
		ID:                domain.VisitID(raw.URL, raw.PageLoadedAt),
		URL:               raw.URL,
		PageLoadedAt:      raw.PageLoadedAt,
		Referrer:          raw.Referrer,
		ReferrerTimestamp: raw.ReferrerTimestamp,
		OpenerTabID:       raw.OpenerTabID,
		RawContent:        raw.Content,
	}
}
