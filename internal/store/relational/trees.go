package relational

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"pkm-assistant/internal/domain"
)

// CreateTree creates a new tree rooted at headVisitID.
func (s *Store) CreateTree(treeID, headVisitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO trees (id, head_visit_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, treeID, headVisitID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("create tree %s: %w", treeID, err)
	}
	return nil
}

// AddTreeNode attaches visitID to treeID under parentID (empty for the head).
func (s *Store) AddTreeNode(treeID, visitID, parentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO tree_nodes (tree_id, visit_id, parent_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tree_id, visit_id) DO UPDATE SET parent_id = excluded.parent_id
	`, treeID, visitID, nullString(parentID), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("add tree node %s/%s: %w", treeID, visitID, err)
	}
	return nil
}

// FindTreeForVisit returns the tree id a visit currently belongs to, or ""
// if the visit has not joined any tree.
func (s *Store) FindTreeForVisit(visitID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var treeID sql.NullString
	err := s.db.QueryRow(`SELECT tree_id FROM visits WHERE id = ?`, visitID).Scan(&treeID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find tree for visit %s: %w", visitID, err)
	}
	return treeID.String, nil
}

// GetTree loads a tree and all its nodes.
func (s *Store) GetTree(treeID string) (*domain.Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t domain.Tree
	t.ID = treeID
	err := s.db.QueryRow(`SELECT head_visit_id FROM trees WHERE id = ?`, treeID).Scan(&t.HeadVisitID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tree %s: %w", treeID, err)
	}

	rows, err := s.db.Query(`
		SELECT tn.visit_id, tn.parent_id, v.url, v.page_loaded_at, v.referrer, v.referrer_timestamp
		FROM tree_nodes tn
		JOIN visits v ON v.id = tn.visit_id
		WHERE tn.tree_id = ?
	`, treeID)
	if err != nil {
		return nil, fmt.Errorf("get tree nodes %s: %w", treeID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var node domain.TreeNode
		var parentID, referrer sql.NullString
		var pageLoadedAt int64
		var referrerTimestamp sql.NullInt64
		if err := rows.Scan(&node.VisitID, &parentID, &node.URL, &pageLoadedAt, &referrer, &referrerTimestamp); err != nil {
			return nil, fmt.Errorf("scan tree node %s: %w", treeID, err)
		}
		node.ParentID = parentID.String
		node.PageLoadedAt = time.UnixMilli(pageLoadedAt)
		node.Referrer = referrer.String
		if referrerTimestamp.Valid {
			node.ReferrerAt = time.UnixMilli(referrerTimestamp.Int64)
		}
		t.Nodes = append(t.Nodes, node)
	}
	return &t, rows.Err()
}

// SaveTreeIntentions persists the computed intention summary for a tree.
func (s *Store) SaveTreeIntentions(ti domain.TreeIntentions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(ti.ByVisitID)
	if err != nil {
		return fmt.Errorf("marshal tree intentions %s: %w", ti.TreeID, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO tree_intentions (tree_id, by_visit_json, computed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(tree_id) DO UPDATE SET by_visit_json = excluded.by_visit_json, computed_at = excluded.computed_at
	`, ti.TreeID, string(payload), ti.ComputedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save tree intentions %s: %w", ti.TreeID, err)
	}
	return nil
}

// GetTreeIntentions loads the most recently computed intention summary for a
// tree, or nil if none has been computed yet.
func (s *Store) GetTreeIntentions(treeID string) (*domain.TreeIntentions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ti domain.TreeIntentions
	ti.TreeID = treeID
	var payload string
	var computedAt int64
	err := s.db.QueryRow(`
		SELECT by_visit_json, computed_at FROM tree_intentions WHERE tree_id = ?
	`, treeID).Scan(&payload, &computedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tree intentions %s: %w", treeID, err)
	}
	if err := json.Unmarshal([]byte(payload), &ti.ByVisitID); err != nil {
		return nil, fmt.Errorf("unmarshal tree intentions %s: %w", treeID, err)
	}
	ti.ComputedAt = time.UnixMilli(computedAt)
	return &ti, nil
}
