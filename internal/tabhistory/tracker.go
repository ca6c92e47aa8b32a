// Package tabhistory implements the Tab History Tracker (spec.md §4.1): an
// in-memory map of browser tab navigation state used to resolve each new
// visit's referrer. Grounded on the teacher's concurrency idiom of a mutex
// guarding a plain map (internal/infra/memory engine caches) rather than
// reaching for a dedicated concurrent-map library, since this state is
// small, single-process, and short-lived.
package tabhistory

import (
	"sync"
	"time"

	"pkm-assistant/internal/domain"
	"pkm-assistant/internal/logging"
)

// Tracker holds the current navigation state of every open browser tab.
type Tracker struct {
	mu     sync.RWMutex
	tabs   map[string]domain.TabHistory
	logger logging.Logger
}

// New constructs an empty Tracker.
func New(logger logging.Logger) *Tracker {
	return &Tracker{
		tabs:   make(map[string]domain.TabHistory),
		logger: logging.OrNop(logger),
	}
}

// OnTabCreated records a newly opened tab, optionally inheriting the
// opener's tab id for orphan resolution (spec.md §4.1 edge case: tab opened
// via "open in new tab").
func (t *Tracker) OnTabCreated(tabID, openerTabID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tabs[tabID] = domain.TabHistory{
		TabID:       tabID,
		OpenerTabID: openerTabID,
	}
	_ = at
}

// OnTabUpdated records a full-page navigation in tabID, shifting the
// previous current URL into history.
func (t *Tracker) OnTabUpdated(tabID, url string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.tabs[tabID]
	h.TabID = tabID
	if h.CurrentURL != "" {
		h.PreviousURL = h.CurrentURL
		h.PreviousAt = h.CurrentAt
	}
	h.CurrentURL = url
	h.CurrentAt = at
	t.tabs[tabID] = h
}

// OnInPageNavigation records a same-document (SPA) navigation, which
// SPEC_FULL.md §13 treats identically to a full navigation for referrer
// purposes.
func (t *Tracker) OnInPageNavigation(tabID, url string, at time.Time) {
	t.OnTabUpdated(tabID, url, at)
}

// OnTabRemoved forgets a closed tab's history.
func (t *Tracker) OnTabRemoved(tabID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tabs, tabID)
}

// GetReferrer returns the tab's previous URL/timestamp (the referrer for its
// next visit) and opener tab id, if the tab is known. When the tab has no
// previous URL it returns the current URL/timestamp instead.
func (t *Tracker) GetReferrer(tabID string) (referrer string, referrerAt time.Time, openerTabID string, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, found := t.tabs[tabID]
	if !found {
		return "", time.Time{}, "", false
	}
	if h.PreviousURL != "" {
		return h.PreviousURL, h.PreviousAt, h.OpenerTabID, true
	}
	return h.CurrentURL, h.CurrentAt, h.OpenerTabID, h.CurrentURL != "" || h.OpenerTabID != ""
}

// Snapshot returns a copy of the tracked tab history, used for diagnostics.
func (t *Tracker) Snapshot() []domain.TabHistory {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]domain.TabHistory, 0, len(t.tabs))
	for _, h := range t.tabs {
		out = append(out, h)
	}
	return out
}
