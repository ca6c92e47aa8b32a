// Package orphan implements the Orphan Manager (spec.md §4.2): visits that
// arrive before the Tab History Tracker has recorded their referrer are held
// here, retried on a ticker, and dropped once they exceed MaxRetries or TTL.
// The bounded map is an LRU cache (hashicorp/golang-lru/v2) rather than a
// plain map, so a burst of unresolvable visits cannot grow memory
// unboundedly — the same bounded-cache idiom the teacher applies to its
// embedding and session caches.
package orphan

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"pkm-assistant/internal/domain"
	"pkm-assistant/internal/logging"
)

const (
	// MaxRetries is the number of times an orphan is retried before being
	// dropped permanently.
	MaxRetries = 5
	// TTL is the maximum time an orphan is held before being dropped
	// regardless of retry count.
	TTL = 60 * time.Second
	// maxOrphans bounds the cache so a pathological burst of un-referrered
	// visits cannot exhaust memory.
	maxOrphans = 10_000
)

// Stats summarises the orphan pool's current state.
type Stats struct {
	Held     int
	Dropped  int
	Resolved int
}

// Manager holds visits awaiting referrer resolution.
type Manager struct {
	cache    *lru.Cache[string, domain.Orphan]
	logger   logging.Logger
	dropped  int
	resolved int
}

// New constructs an orphan Manager.
func New(logger logging.Logger) *Manager {
	cache, _ := lru.New[string, domain.Orphan](maxOrphans)
	return &Manager{cache: cache, logger: logging.OrNop(logger)}
}

// Add holds visit as an orphan, arrived at `now`.
func (m *Manager) Add(visit domain.Visit, openerTabID string, now time.Time) {
	m.cache.Add(visit.ID, domain.Orphan{
		Visit:       visit,
		OpenerTabID: openerTabID,
		ArrivedAt:   now,
		RetryCount:  0,
	})
}

// TakeFor removes and returns every orphan waiting on openerTabID — called
// once the Tab History Tracker learns that tab's navigation state, so all
// siblings sharing that opener are reparented together instead of trickling
// out one per retry tick.
func (m *Manager) TakeFor(openerTabID string) []domain.Orphan {
	var out []domain.Orphan
	for _, key := range m.cache.Keys() {
		o, ok := m.cache.Peek(key)
		if !ok || o.OpenerTabID != openerTabID {
			continue
		}
		m.cache.Remove(key)
		m.resolved++
		out = append(out, o)
	}
	return out
}

// Retryable returns every orphan eligible for another resolution attempt —
// under MaxRetries and within TTL of arrival — evicting everything else.
func (m *Manager) Retryable(now time.Time) []domain.Orphan {
	var out []domain.Orphan
	for _, key := range m.cache.Keys() {
		o, ok := m.cache.Peek(key)
		if !ok {
			continue
		}
		if now.Sub(o.ArrivedAt) > TTL || o.RetryCount >= MaxRetries {
			m.cache.Remove(key)
			m.dropped++
			m.logger.Warn("dropping orphan visit %s after %d retries", o.Visit.ID, o.RetryCount)
			continue
		}
		out = append(out, o)
	}
	return out
}

// Bump increments an orphan's retry count after a failed resolution attempt.
func (m *Manager) Bump(visitID string) {
	o, ok := m.cache.Peek(visitID)
	if !ok {
		return
	}
	o.RetryCount++
	m.cache.Add(visitID, o)
}

// Remove discards visitID's orphan entry after it has been resolved and
// re-enqueued, so the next retry tick does not process it again.
func (m *Manager) Remove(visitID string) {
	if m.cache.Remove(visitID) {
		m.resolved++
	}
}

// Stats reports the manager's current counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Held:     m.cache.Len(),
		Dropped:  m.dropped,
		Resolved: m.resolved,
	}
}
