package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkm-assistant/internal/domain"
	"pkm-assistant/internal/memory/procedural"
)

func newRulesCommand(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Author and inspect procedural rules",
	}
	cmd.AddCommand(newRulesAddCommand(configFile))
	cmd.AddCommand(newRulesListCommand(configFile))
	cmd.AddCommand(newRulesTestCommand(configFile))
	cmd.AddCommand(newRulesImportCommand(configFile))
	cmd.AddCommand(newRulesExportCommand(configFile))
	return cmd
}

// newRulesAddCommand walks the operator through building a rule's condition
// tree one leaf at a time, combining more than one leaf with AND, grounded on
// the teacher's promptui.Select/Prompt wizard idiom (cmd/cobra_cli.go).
func newRulesAddCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "add",
		Short: "Interactively author a new procedural rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(*configFile)
			if err != nil {
				return err
			}
			defer store.Close()

			namePrompt := promptui.Prompt{Label: "Rule name"}
			name, err := namePrompt.Run()
			if err != nil {
				return fmt.Errorf("prompt rule name: %w", err)
			}

			var leaves []domain.Condition
			for {
				leaf, err := promptLeafCondition()
				if err != nil {
					return err
				}
				leaves = append(leaves, leaf)

				again := promptui.Select{Label: "Add another condition (AND)?", Items: []string{"no", "yes"}}
				_, choice, err := again.Run()
				if err != nil {
					return fmt.Errorf("prompt add another: %w", err)
				}
				if choice == "no" {
					break
				}
			}

			condition := leaves[0]
			if len(leaves) > 1 {
				condition = domain.Condition{Operator: domain.LogicAnd, Subconditions: leaves}
			}

			action, err := promptRuleAction()
			if err != nil {
				return err
			}

			priorityPrompt := promptui.Prompt{Label: "Priority (higher evaluates first)", Default: "0"}
			priorityStr, err := priorityPrompt.Run()
			if err != nil {
				return fmt.Errorf("prompt priority: %w", err)
			}
			priority, err := strconv.Atoi(priorityStr)
			if err != nil {
				return fmt.Errorf("priority must be an integer: %w", err)
			}

			rule := domain.ProceduralRule{
				ID:        uuid.NewString(),
				Name:      name,
				Condition: condition,
				Action:    action,
				Priority:  priority,
				Enabled:   true,
				CreatedAt: time.Now(),
			}
			if err := store.SaveRule(rule); err != nil {
				return fmt.Errorf("save rule: %w", err)
			}
			fmt.Printf("%s rule %s (%s) saved\n", colorGreen("✓"), rule.ID, rule.Name)
			return nil
		},
	}
}

func promptLeafCondition() (domain.Condition, error) {
	fieldPrompt := promptui.Prompt{Label: "Field (dotted path, e.g. url.host or content.sample)"}
	field, err := fieldPrompt.Run()
	if err != nil {
		return domain.Condition{}, fmt.Errorf("prompt field: %w", err)
	}

	comparators := []string{
		string(domain.ComparatorEquals), string(domain.ComparatorContains), string(domain.ComparatorMatches),
		string(domain.ComparatorStartsWith), string(domain.ComparatorEndsWith),
		string(domain.ComparatorGreaterThan), string(domain.ComparatorLessThan),
	}
	comparatorSelect := promptui.Select{Label: "Comparator", Items: comparators}
	_, comparator, err := comparatorSelect.Run()
	if err != nil {
		return domain.Condition{}, fmt.Errorf("prompt comparator: %w", err)
	}

	valuePrompt := promptui.Prompt{Label: "Value"}
	value, err := valuePrompt.Run()
	if err != nil {
		return domain.Condition{}, fmt.Errorf("prompt value: %w", err)
	}

	return domain.Condition{Field: field, Comparator: domain.Comparator(comparator), Value: value}, nil
}

func promptRuleAction() (domain.RuleAction, error) {
	kinds := []string{
		string(domain.ActionAccept), string(domain.ActionReject),
		string(domain.ActionTag), string(domain.ActionPriorityBoost), string(domain.ActionCustom),
	}
	kindSelect := promptui.Select{Label: "Action", Items: kinds}
	_, kind, err := kindSelect.Run()
	if err != nil {
		return domain.RuleAction{}, fmt.Errorf("prompt action kind: %w", err)
	}

	valuePrompt := promptui.Prompt{Label: "Action value (tag name or reason text)", AllowEdit: true}
	value, err := valuePrompt.Run()
	if err != nil {
		return domain.RuleAction{}, fmt.Errorf("prompt action value: %w", err)
	}

	return domain.RuleAction{Kind: domain.RuleActionKind(kind), Value: value}, nil
}

func newRulesListCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every procedural rule, enabled or not",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(*configFile)
			if err != nil {
				return err
			}
			defer store.Close()

			rules, err := store.ListAllRules()
			if err != nil {
				return fmt.Errorf("list rules: %w", err)
			}
			if len(rules) == 0 {
				fmt.Println(colorGray("no rules defined"))
				return nil
			}
			for _, r := range rules {
				status := colorGreen("enabled")
				if !r.Enabled {
					status = colorRed("disabled")
				}
				fmt.Printf("%s  %-24s priority=%-4d %s  %s\n", r.ID, r.Name, r.Priority, status, colorGray(string(r.Action.Kind)))
			}
			return nil
		},
	}
}

// newRulesTestCommand dry-runs a stored rule's condition tree against a
// user-supplied field=value context without touching the store or recording
// a RuleExecution, by calling procedural.Matches directly.
func newRulesTestCommand(configFile *string) *cobra.Command {
	var ruleID string
	var fields []string

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Dry-run a rule's condition tree against a sample context",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(*configFile)
			if err != nil {
				return err
			}
			defer store.Close()

			rules, err := store.ListAllRules()
			if err != nil {
				return fmt.Errorf("list rules: %w", err)
			}
			var rule *domain.ProceduralRule
			for i := range rules {
				if rules[i].ID == ruleID {
					rule = &rules[i]
					break
				}
			}
			if rule == nil {
				return fmt.Errorf("no rule with id %s", ruleID)
			}

			ctx, err := parseTestContext(fields)
			if err != nil {
				return err
			}

			matched, err := procedural.Matches(rule.Condition, ctx)
			if err != nil {
				return fmt.Errorf("evaluate rule %s: %w", ruleID, err)
			}
			if matched {
				fmt.Printf("%s rule %q matches\n", colorGreen("✓"), rule.Name)
			} else {
				fmt.Printf("%s rule %q does not match\n", colorYellow("✗"), rule.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&ruleID, "id", "", "rule id to test (required)")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "field=value pair, repeatable (dotted paths become nested maps)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// parseTestContext turns repeated --field a.b=c flags into the nested
// map[string]any procedural.Context expects for dotted-path lookup.
func parseTestContext(fields []string) (procedural.Context, error) {
	ctx := procedural.Context{}
	for _, f := range fields {
		key, value, ok := splitKeyValue(f)
		if !ok {
			return nil, fmt.Errorf("--field must be key=value, got %q", f)
		}
		setDotted(ctx, key, value)
	}
	return ctx, nil
}

func splitKeyValue(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

func setDotted(root map[string]any, path, value string) {
	parts := splitDots(path)
	cur := root
	for i, part := range parts {
		if i == len(parts)-1 {
			cur[part] = value
			return
		}
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
}

func splitDots(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// yamlCondition mirrors domain.Condition with explicit yaml tags, since the
// domain type carries none and yaml.v3's default lowercasing would otherwise
// collide Field/FieldSomething-style names.
type yamlCondition struct {
	Operator      string          `yaml:"operator,omitempty"`
	Subconditions []yamlCondition `yaml:"subconditions,omitempty"`
	Field         string          `yaml:"field,omitempty"`
	Comparator    string          `yaml:"comparator,omitempty"`
	Value         string          `yaml:"value,omitempty"`
}

type yamlRule struct {
	ID        string        `yaml:"id"`
	Name      string        `yaml:"name"`
	Condition yamlCondition `yaml:"condition"`
	Action    struct {
		Kind  string `yaml:"kind"`
		Value string `yaml:"value"`
	} `yaml:"action"`
	Priority int  `yaml:"priority"`
	Enabled  bool `yaml:"enabled"`
}

type yamlRuleFile struct {
	Rules []yamlRule `yaml:"rules"`
}

func toYAMLCondition(c domain.Condition) yamlCondition {
	out := yamlCondition{
		Operator:   string(c.Operator),
		Field:      c.Field,
		Comparator: string(c.Comparator),
		Value:      c.Value,
	}
	for _, sub := range c.Subconditions {
		out.Subconditions = append(out.Subconditions, toYAMLCondition(sub))
	}
	return out
}

func fromYAMLCondition(c yamlCondition) domain.Condition {
	out := domain.Condition{
		Operator:   domain.LogicOperator(c.Operator),
		Field:      c.Field,
		Comparator: domain.Comparator(c.Comparator),
		Value:      c.Value,
	}
	for _, sub := range c.Subconditions {
		out.Subconditions = append(out.Subconditions, fromYAMLCondition(sub))
	}
	return out
}

func newRulesExportCommand(configFile *string) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every rule to a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(*configFile)
			if err != nil {
				return err
			}
			defer store.Close()

			rules, err := store.ListAllRules()
			if err != nil {
				return fmt.Errorf("list rules: %w", err)
			}

			file := yamlRuleFile{}
			for _, r := range rules {
				yr := yamlRule{
					ID:        r.ID,
					Name:      r.Name,
					Condition: toYAMLCondition(r.Condition),
					Priority:  r.Priority,
					Enabled:   r.Enabled,
				}
				yr.Action.Kind = string(r.Action.Kind)
				yr.Action.Value = r.Action.Value
				file.Rules = append(file.Rules, yr)
			}

			out, err := yaml.Marshal(file)
			if err != nil {
				return fmt.Errorf("marshal rules: %w", err)
			}
			if err := os.WriteFile(outPath, out, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", outPath, err)
			}
			fmt.Printf("%s exported %d rules to %s\n", colorGreen("✓"), len(file.Rules), outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "rules.yaml", "output YAML file path")
	return cmd
}

func newRulesImportCommand(configFile *string) *cobra.Command {
	var inPath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import rules from a YAML file, overwriting rules with matching ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(*configFile)
			if err != nil {
				return err
			}
			defer store.Close()

			raw, err := os.ReadFile(inPath)
			if err != nil {
				return fmt.Errorf("read %s: %w", inPath, err)
			}
			var file yamlRuleFile
			if err := yaml.Unmarshal(raw, &file); err != nil {
				return fmt.Errorf("parse %s: %w", inPath, err)
			}

			for _, yr := range file.Rules {
				id := yr.ID
				if id == "" {
					id = uuid.NewString()
				}
				rule := domain.ProceduralRule{
					ID:        id,
					Name:      yr.Name,
					Condition: fromYAMLCondition(yr.Condition),
					Action:    domain.RuleAction{Kind: domain.RuleActionKind(yr.Action.Kind), Value: yr.Action.Value},
					Priority:  yr.Priority,
					Enabled:   yr.Enabled,
					CreatedAt: time.Now(),
				}
				if err := store.SaveRule(rule); err != nil {
					return fmt.Errorf("save rule %s: %w", rule.ID, err)
				}
			}
			fmt.Printf("%s imported %d rules from %s\n", colorGreen("✓"), len(file.Rules), inPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "rules.yaml", "input YAML file path")
	return cmd
}
