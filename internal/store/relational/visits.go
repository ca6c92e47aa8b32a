package relational

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"pkm-assistant/internal/domain"
)

// SaveVisit inserts a visit, idempotently: calling it twice with the same id
// updates rather than duplicates, matching the intake service's at-most-once
// persistence requirement (spec.md §8, "idempotent intake").
func (s *Store) SaveVisit(v domain.Visit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO visits (id, url, page_loaded_at, referrer, referrer_timestamp, opener_tab_id, tree_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			page_loaded_at = excluded.page_loaded_at,
			referrer = excluded.referrer,
			referrer_timestamp = excluded.referrer_timestamp,
			opener_tab_id = excluded.opener_tab_id,
			tree_id = excluded.tree_id
	`, v.ID, v.URL, v.PageLoadedAt.UnixMilli(), nullString(v.Referrer), nullTime(v.ReferrerTimestamp),
		nullString(v.OpenerTabID), nullString(v.TreeID), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save visit %s: %w", v.ID, err)
	}
	return nil
}

// GetVisit retrieves a visit by id, returning (nil, nil) if not found.
func (s *Store) GetVisit(id string) (*domain.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var v domain.Visit
	var pageLoadedAt int64
	var referrer, openerTabID, treeID sql.NullString
	var referrerTimestamp sql.NullInt64

	err := s.db.QueryRow(`
		SELECT id, url, page_loaded_at, referrer, referrer_timestamp, opener_tab_id, tree_id
		FROM visits WHERE id = ?
	`, id).Scan(&v.ID, &v.URL, &pageLoadedAt, &referrer, &referrerTimestamp, &openerTabID, &treeID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get visit %s: %w", id, err)
	}

	v.PageLoadedAt = time.UnixMilli(pageLoadedAt)
	v.Referrer = referrer.String
	v.OpenerTabID = openerTabID.String
	v.TreeID = treeID.String
	if referrerTimestamp.Valid {
		v.ReferrerTimestamp = time.UnixMilli(referrerTimestamp.Int64)
	}
	return &v, nil
}

// SetVisitTree assigns the tree a visit belongs to, used by the tree builder
// after it has resolved the visit's parent.
func (s *Store) SetVisitTree(visitID, treeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE visits SET tree_id = ? WHERE id = ?`, treeID, visitID)
	if err != nil {
		return fmt.Errorf("set visit tree %s: %w", visitID, err)
	}
	return nil
}

// FindCandidateParents returns visits on the same registrable domain whose
// page_loaded_at falls within window of before, ordered most-recent-first,
// the basis for the tree builder's 30-minute membership window (SPEC_FULL.md
// §13).
func (s *Store) FindCandidateParents(urlDomain string, before time.Time, window time.Duration) ([]domain.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	earliest := before.Add(-window).UnixMilli()
	rows, err := s.db.Query(`
		SELECT id, url, page_loaded_at, referrer, referrer_timestamp, opener_tab_id, tree_id
		FROM visits
		WHERE page_loaded_at BETWEEN ? AND ? AND url LIKE '%' || ? || '%'
		ORDER BY page_loaded_at DESC
	`, earliest, before.UnixMilli(), urlDomain)
	if err != nil {
		return nil, fmt.Errorf("find candidate parents: %w", err)
	}
	defer rows.Close()

	var out []domain.Visit
	for rows.Next() {
		var v domain.Visit
		var pageLoadedAt int64
		var referrer, openerTabID, treeID sql.NullString
		var referrerTimestamp sql.NullInt64
		if err := rows.Scan(&v.ID, &v.URL, &pageLoadedAt, &referrer, &referrerTimestamp, &openerTabID, &treeID); err != nil {
			return nil, fmt.Errorf("scan candidate parent: %w", err)
		}
		v.PageLoadedAt = time.UnixMilli(pageLoadedAt)
		v.Referrer = referrer.String
		v.OpenerTabID = openerTabID.String
		v.TreeID = treeID.String
		if referrerTimestamp.Valid {
			v.ReferrerTimestamp = time.UnixMilli(referrerTimestamp.Int64)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SavePageAnalysis persists the LLM page analysis for a visit.
func (s *Store) SavePageAnalysis(a domain.PageAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	intentionsJSON, err := json.Marshal(a.Intentions)
	if err != nil {
		return fmt.Errorf("marshal intentions: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO page_analyses (visit_id, title, summary, intentions_json, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(visit_id) DO UPDATE SET
			title = excluded.title,
			summary = excluded.summary,
			intentions_json = excluded.intentions_json
	`, a.VisitID, a.Title, a.Summary, string(intentionsJSON), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save page analysis %s: %w", a.VisitID, err)
	}
	return nil
}

// GetPageAnalysis retrieves the page analysis for a visit, if any.
func (s *Store) GetPageAnalysis(visitID string) (*domain.PageAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var a domain.PageAnalysis
	var intentionsJSON string
	err := s.db.QueryRow(`
		SELECT visit_id, title, summary, intentions_json FROM page_analyses WHERE visit_id = ?
	`, visitID).Scan(&a.VisitID, &a.Title, &a.Summary, &intentionsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get page analysis %s: %w", visitID, err)
	}
	if intentionsJSON != "" {
		if err := json.Unmarshal([]byte(intentionsJSON), &a.Intentions); err != nil {
			return nil, fmt.Errorf("unmarshal intentions %s: %w", visitID, err)
		}
	}
	return &a, nil
}

// RecentVisits returns the limit most recently loaded visits, most-recent
// first, for the pkmctl inspect TUI's visit browser.
func (s *Store) RecentVisits(limit int) ([]domain.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, url, page_loaded_at, referrer, referrer_timestamp, opener_tab_id, tree_id
		FROM visits
		ORDER BY page_loaded_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent visits: %w", err)
	}
	defer rows.Close()

	var out []domain.Visit
	for rows.Next() {
		var v domain.Visit
		var pageLoadedAt int64
		var referrer, openerTabID, treeID sql.NullString
		var referrerTimestamp sql.NullInt64
		if err := rows.Scan(&v.ID, &v.URL, &pageLoadedAt, &referrer, &referrerTimestamp, &openerTabID, &treeID); err != nil {
			return nil, fmt.Errorf("scan recent visit: %w", err)
		}
		v.PageLoadedAt = time.UnixMilli(pageLoadedAt)
		v.Referrer = referrer.String
		v.OpenerTabID = openerTabID.String
		v.TreeID = treeID.String
		if referrerTimestamp.Valid {
			v.ReferrerTimestamp = time.UnixMilli(referrerTimestamp.Int64)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
