package relational

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"pkm-assistant/internal/domain"
)

// SaveRule inserts or updates a procedural rule.
func (s *Store) SaveRule(r domain.ProceduralRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	condJSON, err := json.Marshal(r.Condition)
	if err != nil {
		return fmt.Errorf("marshal rule condition %s: %w", r.ID, err)
	}
	actionJSON, err := json.Marshal(r.Action)
	if err != nil {
		return fmt.Errorf("marshal rule action %s: %w", r.ID, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO procedural_rules (id, name, priority, condition_json, action_json, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			priority = excluded.priority,
			condition_json = excluded.condition_json,
			action_json = excluded.action_json,
			enabled = excluded.enabled
	`, r.ID, r.Name, r.Priority, string(condJSON), string(actionJSON), boolToInt(r.Enabled), r.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save rule %s: %w", r.ID, err)
	}
	return nil
}

// ListEnabledRules returns every enabled rule ordered by priority descending
// then created_at ascending, the evaluation order spec.md §4.8 mandates.
func (s *Store) ListEnabledRules() ([]domain.ProceduralRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, name, priority, condition_json, action_json, enabled, created_at
		FROM procedural_rules WHERE enabled = 1
		ORDER BY priority DESC, created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}
	defer rows.Close()

	var out []domain.ProceduralRule
	for rows.Next() {
		var r domain.ProceduralRule
		var condJSON, actionJSON string
		var enabled int
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.Name, &r.Priority, &condJSON, &actionJSON, &enabled, &createdAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		if err := json.Unmarshal([]byte(condJSON), &r.Condition); err != nil {
			return nil, fmt.Errorf("unmarshal rule condition %s: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(actionJSON), &r.Action); err != nil {
			return nil, fmt.Errorf("unmarshal rule action %s: %w", r.ID, err)
		}
		r.Enabled = enabled != 0
		r.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListAllRules returns every rule regardless of enabled state, ordered the
// same way as ListEnabledRules, for the pkmctl rules list/export commands.
func (s *Store) ListAllRules() ([]domain.ProceduralRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, name, priority, condition_json, action_json, enabled, created_at
		FROM procedural_rules
		ORDER BY priority DESC, created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list all rules: %w", err)
	}
	defer rows.Close()

	var out []domain.ProceduralRule
	for rows.Next() {
		var r domain.ProceduralRule
		var condJSON, actionJSON string
		var enabled int
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.Name, &r.Priority, &condJSON, &actionJSON, &enabled, &createdAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		if err := json.Unmarshal([]byte(condJSON), &r.Condition); err != nil {
			return nil, fmt.Errorf("unmarshal rule condition %s: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(actionJSON), &r.Action); err != nil {
			return nil, fmt.Errorf("unmarshal rule action %s: %w", r.ID, err)
		}
		r.Enabled = enabled != 0
		r.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DisableRule marks a rule disabled, used to quarantine a rule whose
// condition tree fails to compile (RuleCompileError, spec.md §7).
func (s *Store) DisableRule(ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE procedural_rules SET enabled = 0 WHERE id = ?`, ruleID)
	if err != nil {
		return fmt.Errorf("disable rule %s: %w", ruleID, err)
	}
	return nil
}

// RecordRuleExecution logs whether a rule matched a visit and, if so, what
// action it produced — the audit trail behind the procedural memory's
// decision overrides.
func (s *Store) RecordRuleExecution(e domain.RuleExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var actionJSON sql.NullString
	if e.Matched {
		payload, err := json.Marshal(e.Action)
		if err != nil {
			return fmt.Errorf("marshal rule execution action: %w", err)
		}
		actionJSON = sql.NullString{String: string(payload), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO rule_executions (id, rule_id, visit_id, matched, action_json, executed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.RuleID, e.VisitID, boolToInt(e.Matched), actionJSON, e.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("record rule execution %s: %w", e.ID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
