// Package procedural implements Procedural Memory (spec.md §4.6): a
// compiler/evaluator for user-defined condition-tree rules, evaluated in
// priority order against a classification context, with failed rules
// quarantined rather than blocking the pipeline. Grounded on
// internal/store/relational's rules table for rule storage/audit and on
// the teacher's retry/circuit-breaker error taxonomy's "don't let one bad
// unit take down the whole run" idiom for the compile-failure quarantine
// path.
package procedural

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"pkm-assistant/internal/domain"
	"pkm-assistant/internal/logging"
)

// Store is the relational subset the rule engine depends on.
type Store interface {
	SaveRule(r domain.ProceduralRule) error
	ListEnabledRules() ([]domain.ProceduralRule, error)
	DisableRule(ruleID string) error
	RecordRuleExecution(e domain.RuleExecution) error
}

// Engine evaluates procedural rules against a classification context.
type Engine struct {
	store  Store
	logger logging.Logger
}

// New constructs an Engine.
func New(store Store, logger logging.Logger) *Engine {
	return &Engine{store: store, logger: logging.OrNop(logger)}
}

// Context is the dotted-path-addressable classification context a
// condition tree is evaluated against (e.g. "content.sample", "page_type").
type Context map[string]any

// Evaluate runs every enabled rule, in priority-desc/created-at-asc order,
// against ctx for visitID, recording a RuleExecution per match attempt and
// quarantining any rule whose condition fails to compile. It returns the
// actions contributed by matching rules; evaluation stops collecting further
// actions once an accept or reject has fired, per spec.md §4.6.
func (e *Engine) Evaluate(ctx context.Context, visitID string, classification Context) ([]domain.RuleAction, error) {
	rules, err := e.store.ListEnabledRules()
	if err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}

	var actions []domain.RuleAction
	for _, rule := range rules {
		matched, err := Matches(rule.Condition, classification)
		if err != nil {
			e.logger.Warn("quarantining rule %s: %v", rule.ID, err)
			if disableErr := e.store.DisableRule(rule.ID); disableErr != nil {
				e.logger.Error("failed to disable rule %s: %v", rule.ID, disableErr)
			}
			continue
		}

		if recErr := e.store.RecordRuleExecution(domain.RuleExecution{
			ID:        rule.ID + ":" + visitID,
			RuleID:    rule.ID,
			VisitID:   visitID,
			Matched:   matched,
			Action:    rule.Action,
			Timestamp: time.Now(),
		}); recErr != nil {
			e.logger.Error("failed to record rule execution %s: %v", rule.ID, recErr)
		}

		if !matched {
			continue
		}

		actions = append(actions, rule.Action)
		if rule.Action.Kind == domain.ActionAccept || rule.Action.Kind == domain.ActionReject {
			break
		}
	}
	return actions, nil
}

// Matches recursively evaluates a condition tree against ctx (spec.md
// §4.6's condition evaluator): and/or short-circuit over subconditions, not
// negates its single subcondition, leaves read a dotted field path and
// apply a comparator.
func Matches(c domain.Condition, ctx Context) (bool, error) {
	if c.IsLeaf() {
		return matchLeaf(c, ctx)
	}

	switch c.Operator {
	case domain.LogicAnd:
		for _, sub := range c.Subconditions {
			ok, err := Matches(sub, ctx)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case domain.LogicOr:
		for _, sub := range c.Subconditions {
			ok, err := Matches(sub, ctx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case domain.LogicNot:
		if len(c.Subconditions) != 1 {
			return false, fmt.Errorf("not requires exactly one subcondition, got %d", len(c.Subconditions))
		}
		ok, err := Matches(c.Subconditions[0], ctx)
		if err != nil {
			return false, err
		}
		return !ok, nil
	default:
		return false, fmt.Errorf("unknown logic operator %q", c.Operator)
	}
}

func matchLeaf(c domain.Condition, ctx Context) (bool, error) {
	value, ok := lookup(ctx, c.Field)
	if !ok {
		return false, nil
	}

	switch c.Comparator {
	case domain.ComparatorEquals:
		return strings.EqualFold(toString(value), c.Value), nil
	case domain.ComparatorContains:
		return strings.Contains(strings.ToLower(toString(value)), strings.ToLower(c.Value)), nil
	case domain.ComparatorStartsWith:
		return strings.HasPrefix(strings.ToLower(toString(value)), strings.ToLower(c.Value)), nil
	case domain.ComparatorEndsWith:
		return strings.HasSuffix(strings.ToLower(toString(value)), strings.ToLower(c.Value)), nil
	case domain.ComparatorMatches:
		re, err := regexp.Compile("(?i)" + c.Value)
		if err != nil {
			return false, fmt.Errorf("compile regex %q for field %s: %w", c.Value, c.Field, err)
		}
		return re.MatchString(toString(value)), nil
	case domain.ComparatorGreaterThan, domain.ComparatorLessThan:
		got, err := toFloat(value)
		if err != nil {
			return false, fmt.Errorf("field %s: %w", c.Field, err)
		}
		want, err := strconv.ParseFloat(c.Value, 64)
		if err != nil {
			return false, fmt.Errorf("comparator value %q for field %s: %w", c.Value, c.Field, err)
		}
		if c.Comparator == domain.ComparatorGreaterThan {
			return got > want, nil
		}
		return got < want, nil
	default:
		return false, fmt.Errorf("unknown comparator %q", c.Comparator)
	}
}

// lookup resolves a dotted field path (e.g. "content.sample") against a
// nested map[string]any context. Missing fields return ok=false.
func lookup(ctx Context, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = map[string]any(ctx)
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		return strconv.ParseFloat(t, 64)
	default:
		return 0, fmt.Errorf("value %v is not numeric", v)
	}
}
