package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/adminpilot/control-plane/internal/store"
	"github.com/adminpilot/control-plane/pkg/models"
	"github.com/expr-lang/expr"
)

var (
	automationTriggers = []string{"new_contact", "new_message", "conversation_closed", "campaign_sent", "tag_added"}
	automationActions  = []string{"send_email", "send_whatsapp", "tag_contact", "notify_webhook", "assign_agent"}
)

type listRulesArgs struct {
	Enabled *bool `json:"enabled"`
	Limit   int   `json:"limit" validate:"min=0,max=100"`
}

type createRuleArgs struct {
	Name         string         `json:"name" validate:"required,max=200"`
	TriggerEvent string         `json:"trigger_event" validate:"required,oneof=new_contact new_message conversation_closed campaign_sent tag_added"`
	Condition    string         `json:"condition" validate:"max=1000,condition"`
	ActionType   string         `json:"action_type" validate:"required,oneof=send_email send_whatsapp tag_contact notify_webhook assign_agent"`
	ActionConfig map[string]any `json:"action_config"`
	Enabled      *bool          `json:"enabled"`
}

type toggleRuleArgs struct {
	RuleID  string `json:"rule_id" validate:"required,max=64"`
	Enabled *bool  `json:"enabled" validate:"required"`
}

type testRuleArgs struct {
	RuleID    string         `json:"rule_id" validate:"required_without=Condition,omitempty,max=64"`
	Condition string         `json:"condition" validate:"required_without=RuleID,max=1000,condition"`
	Payload   map[string]any `json:"payload" validate:"required"`
}

type ruleIDArgs struct {
	RuleID string `json:"rule_id" validate:"required,max=64"`
}

func ruleTarget(id string) models.Target {
	return models.Target{Table: store.TableAutomationRules, ID: id}
}

func automationTools() []Tool {
	conditionHelp := "Optional boolean expression over the event payload, e.g. contact.country == \"DE\" && order.total > 100"

	return []Tool{
		&typedTool[listRulesArgs]{
			decl: Declaration{
				Name:        "list_automation_rules",
				Description: "List automation rules.",
				Parameters: Object(map[string]*Schema{
					"enabled": Boolean("Only enabled (true) or disabled (false) rules"),
					"limit":   Integer("Maximum number of rules (default 20, max 100)"),
				}),
				ReadOnly: true,
			},
			run: func(ctx context.Context, env *Env, a listRulesArgs) (Outcome, error) {
				q := store.Query{Limit: clampLimit(a.Limit)}
				if a.Enabled != nil {
					q.Filters = map[string]any{"enabled": *a.Enabled}
				}
				rows, err := env.Store.ListRecords(ctx, store.TableAutomationRules, q)
				if err != nil {
					return Outcome{}, storeFailure("list automation rules", err)
				}
				return Outcome{Data: map[string]any{"rules": rows, "count": len(rows)}}, nil
			},
		},
		&typedTool[createRuleArgs]{
			decl: Declaration{
				Name:        "create_automation_rule",
				Description: "Create an automation rule that runs an action when an event happens and its condition holds.",
				Parameters: Object(map[string]*Schema{
					"name":          String("Rule name"),
					"trigger_event": Enum("Event that triggers the rule", automationTriggers...),
					"condition":     String(conditionHelp),
					"action_type":   Enum("Action to run", automationActions...),
					"action_config": FreeObject("Action parameters, e.g. {\"template_id\": \"...\"} for send_email"),
					"enabled":       Boolean("Whether the rule starts enabled (default true)"),
				}, "name", "trigger_event", "action_type"),
			},
			describe: func(a createRuleArgs) string { return "create automation rule " + a.Name },
			run:      createRule,
		},
		&typedTool[toggleRuleArgs]{
			decl: Declaration{
				Name:        "toggle_automation_rule",
				Description: "Enable or disable an automation rule.",
				Parameters: Object(map[string]*Schema{
					"rule_id": String("Automation rule id"),
					"enabled": Boolean("true to enable, false to disable"),
				}, "rule_id", "enabled"),
			},
			target: func(a toggleRuleArgs) models.Target { return ruleTarget(a.RuleID) },
			run: func(ctx context.Context, env *Env, a toggleRuleArgs) (Outcome, error) {
				return updateRecord(ctx, env, store.TableAutomationRules, "automation rule", "rule", a.RuleID,
					patch{"enabled": *a.Enabled})
			},
		},
		&typedTool[testRuleArgs]{
			decl: Declaration{
				Name:        "test_automation_rule",
				Description: "Evaluate a rule condition (stored or given inline) against a sample event payload without running any action.",
				Parameters: Object(map[string]*Schema{
					"rule_id":   String("Automation rule whose condition to test"),
					"condition": String("Inline condition to test instead of a stored rule"),
					"payload":   FreeObject("Sample event payload"),
				}, "payload"),
				ReadOnly: true,
			},
			run: testRule,
		},
		&typedTool[ruleIDArgs]{
			decl: Declaration{
				Name:        "delete_automation_rule",
				Description: "Permanently delete an automation rule.",
				Parameters:  Object(map[string]*Schema{"rule_id": String("Automation rule id")}, "rule_id"),
				Destructive: true,
			},
			target:   func(a ruleIDArgs) models.Target { return ruleTarget(a.RuleID) },
			describe: func(a ruleIDArgs) string { return "permanently delete automation rule " + a.RuleID },
			run: func(ctx context.Context, env *Env, a ruleIDArgs) (Outcome, error) {
				return deleteRecord(ctx, env, store.TableAutomationRules, "automation rule", a.RuleID)
			},
		},
	}
}

func createRule(ctx context.Context, env *Env, a createRuleArgs) (Outcome, error) {
	enabled := true
	if a.Enabled != nil {
		enabled = *a.Enabled
	}
	rec := store.Record{
		"name":          strings.TrimSpace(a.Name),
		"trigger_event": a.TriggerEvent,
		"action_type":   a.ActionType,
		"enabled":       enabled,
		"source":        "admin_agent",
	}
	if c := strings.TrimSpace(a.Condition); c != "" {
		rec["condition"] = c
	}
	if a.ActionConfig != nil {
		rec["action_config"] = a.ActionConfig
	}

	created, err := env.Store.InsertRecord(ctx, store.TableAutomationRules, rec)
	if err != nil {
		return Outcome{}, storeFailure("create automation rule", err)
	}
	return Outcome{
		Data:   map[string]any{"rule": brief(created, "name", "trigger_event", "action_type", "enabled", "condition")},
		Target: ruleTarget(created.ID()),
	}, nil
}

func testRule(ctx context.Context, env *Env, a testRuleArgs) (Outcome, error) {
	condition := strings.TrimSpace(a.Condition)
	if condition == "" {
		rule, err := fetch(ctx, env, store.TableAutomationRules, "automation rule", a.RuleID)
		if err != nil {
			return Outcome{}, err
		}
		condition = strings.TrimSpace(rule.String("condition"))
	}
	if condition == "" {
		return Outcome{Data: map[string]any{"matched": true, "condition": "", "note": "rule has no condition and always matches"}}, nil
	}

	matched, err := EvaluateCondition(condition, a.Payload)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Data: map[string]any{"matched": matched, "condition": condition}}, nil
}

// EvaluateCondition compiles and runs a rule condition against payload.
func EvaluateCondition(condition string, payload map[string]any) (bool, error) {
	program, err := expr.Compile(condition, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return false, fmt.Errorf("invalid condition: %w", err)
	}
	out, err := expr.Run(program, payload)
	if err != nil {
		return false, fmt.Errorf("condition failed: %w", err)
	}
	matched, _ := out.(bool)
	return matched, nil
}
