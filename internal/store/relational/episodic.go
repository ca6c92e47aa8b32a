package relational

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"pkm-assistant/internal/domain"
)

// SaveEpisode inserts one episodic memory record.
func (s *Store) SaveEpisode(m domain.EpisodicMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	featuresJSON, err := json.Marshal(m.Features)
	if err != nil {
		return fmt.Errorf("marshal episode features %s: %w", m.ID, err)
	}
	var correctionJSON sql.NullString
	if m.Correction != nil {
		payload, err := json.Marshal(m.Correction)
		if err != nil {
			return fmt.Errorf("marshal episode correction %s: %w", m.ID, err)
		}
		correctionJSON = sql.NullString{String: string(payload), Valid: true}
	}

	decision := "reject"
	if m.OriginalDecision {
		decision = "accept"
	}

	_, err = s.db.Exec(`
		INSERT INTO episodic_memories (id, url, domain, page_type, base_confidence, final_decision, content_features_json, user_correction_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.URL, m.Domain, m.PageType, m.Confidence, decision, string(featuresJSON), correctionJSON, m.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("save episode %s: %w", m.ID, err)
	}
	return nil
}

// AddUserCorrection attaches a correction to an existing episodic memory.
func (s *Store) AddUserCorrection(episodeID string, correction domain.UserCorrection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(correction)
	if err != nil {
		return fmt.Errorf("marshal correction %s: %w", episodeID, err)
	}
	_, err = s.db.Exec(`UPDATE episodic_memories SET user_correction_json = ? WHERE id = ?`, string(payload), episodeID)
	if err != nil {
		return fmt.Errorf("add user correction %s: %w", episodeID, err)
	}
	return nil
}

// FindByDomain returns every episodic memory recorded for domain, newest
// first, used by the episodic boost calculation (spec.md §4.6).
func (s *Store) FindByDomain(domainName string) ([]domain.EpisodicMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, url, domain, page_type, base_confidence, final_decision, content_features_json, user_correction_json, created_at
		FROM episodic_memories WHERE domain = ? ORDER BY created_at DESC
	`, domainName)
	if err != nil {
		return nil, fmt.Errorf("find episodes by domain %s: %w", domainName, err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// AllEpisodes returns every stored episodic memory, newest first — used by
// Statistics() and by the vector-store backfill path.
func (s *Store) AllEpisodes() ([]domain.EpisodicMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, url, domain, page_type, base_confidence, final_decision, content_features_json, user_correction_json, created_at
		FROM episodic_memories ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list all episodes: %w", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

func scanEpisodes(rows *sql.Rows) ([]domain.EpisodicMemory, error) {
	var out []domain.EpisodicMemory
	for rows.Next() {
		var m domain.EpisodicMemory
		var featuresJSON string
		var correctionJSON sql.NullString
		var decision string
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.URL, &m.Domain, &m.PageType, &m.Confidence, &decision, &featuresJSON, &correctionJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		m.OriginalDecision = decision == "accept"
		m.Timestamp = time.UnixMilli(createdAt)
		if featuresJSON != "" {
			if err := json.Unmarshal([]byte(featuresJSON), &m.Features); err != nil {
				return nil, fmt.Errorf("unmarshal episode features %s: %w", m.ID, err)
			}
		}
		if correctionJSON.Valid {
			var c domain.UserCorrection
			if err := json.Unmarshal([]byte(correctionJSON.String), &c); err != nil {
				return nil, fmt.Errorf("unmarshal episode correction %s: %w", m.ID, err)
			}
			m.Correction = &c
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Statistics computes the episodic memory's summary counters (spec.md §4.6
// statistics()).
func (s *Store) Statistics() (domain.EpisodicStatistics, error) {
	episodes, err := s.AllEpisodes()
	if err != nil {
		return domain.EpisodicStatistics{}, err
	}

	stats := domain.EpisodicStatistics{CorrectionsByType: map[string]int{}}
	stats.Total = len(episodes)
	for _, e := range episodes {
		if e.Correction == nil {
			continue
		}
		stats.Corrections++
		stats.CorrectionsByType[e.PageType]++
		if e.OriginalDecision && !e.Correction.CorrectedDecision {
			stats.FalsePositives++
		}
		if !e.OriginalDecision && e.Correction.CorrectedDecision {
			stats.FalseNegatives++
		}
	}
	return stats, nil
}
