package tools

import (
	"context"

	"github.com/adminpilot/control-plane/internal/store"
	"github.com/adminpilot/control-plane/pkg/models"
)

var aiTones = []string{"friendly", "professional", "casual", "formal"}

type noArgs struct{}

type updateAISettingsArgs struct {
	Tone               *string  `json:"tone" validate:"omitempty,oneof=friendly professional casual formal"`
	AutoReply          *bool    `json:"auto_reply"`
	GreetingMessage    *string  `json:"greeting_message" validate:"omitempty,max=1000"`
	MaxResponseLength  *int     `json:"max_response_length" validate:"omitempty,min=50,max=4000"`
	Language           *string  `json:"language" validate:"omitempty,min=2,max=10"`
	BusinessHours      *string  `json:"business_hours" validate:"omitempty,max=200"`
	EscalationKeywords []string `json:"escalation_keywords" validate:"omitempty,max=50,dive,required,max=50"`
}

// defaultAISettings is what get_ai_settings reports before anything was saved.
var defaultAISettings = map[string]any{
	"tone":                "friendly",
	"auto_reply":          false,
	"max_response_length": 500,
	"language":            "en",
}

func aiTools() []Tool {
	return []Tool{
		&typedTool[noArgs]{
			decl: Declaration{
				Name:        "get_ai_settings",
				Description: "Read the customer-facing AI assistant configuration.",
				Parameters:  Object(nil),
				ReadOnly:    true,
			},
			run: func(ctx context.Context, env *Env, _ noArgs) (Outcome, error) {
				rec, err := currentAISettings(ctx, env)
				if err != nil {
					return Outcome{}, err
				}
				if rec == nil {
					return Outcome{Data: map[string]any{"settings": defaultAISettings, "saved": false}}, nil
				}
				return Outcome{Data: map[string]any{"settings": rec, "saved": true}}, nil
			},
		},
		&typedTool[updateAISettingsArgs]{
			decl: Declaration{
				Name:        "update_ai_settings",
				Description: "Change how the customer-facing AI assistant behaves. Only the given fields change.",
				Parameters: Object(map[string]*Schema{
					"tone":                Enum("Conversation tone", aiTones...),
					"auto_reply":          Boolean("Whether the assistant answers customers automatically"),
					"greeting_message":    String("First message sent to new conversations"),
					"max_response_length": Integer("Maximum characters per reply (50-4000)"),
					"language":            String("Reply language code, e.g. en or es"),
					"business_hours":      String("Business hours description, e.g. Mon-Fri 9-17 CET"),
					"escalation_keywords": Array("Words that hand the conversation to a human", String("Keyword")),
				}),
			},
			target: func(updateAISettingsArgs) models.Target { return models.Target{Table: store.TableAISettings} },
			run:    updateAISettings,
		},
	}
}

func currentAISettings(ctx context.Context, env *Env) (store.Record, error) {
	rows, err := env.Store.ListRecords(ctx, store.TableAISettings, store.Query{Limit: 1})
	if err != nil {
		return nil, storeFailure("load AI settings", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func updateAISettings(ctx context.Context, env *Env, a updateAISettingsArgs) (Outcome, error) {
	p := patch{}
	p.str("tone", a.Tone)
	p.boolean("auto_reply", a.AutoReply)
	p.str("greeting_message", a.GreetingMessage)
	p.integer("max_response_length", a.MaxResponseLength)
	p.str("language", a.Language)
	p.str("business_hours", a.BusinessHours)
	p.list("escalation_keywords", a.EscalationKeywords)

	existing, err := currentAISettings(ctx, env)
	if err != nil {
		return Outcome{}, err
	}
	if existing == nil {
		if len(p) == 0 {
			return Outcome{}, errNoFields
		}
		rec := store.Record{}
		for k, v := range defaultAISettings {
			rec[k] = v
		}
		for k, v := range p {
			rec[k] = v
		}
		created, err := env.Store.InsertRecord(ctx, store.TableAISettings, rec)
		if err != nil {
			return Outcome{}, storeFailure("save AI settings", err)
		}
		return Outcome{
			Data:   map[string]any{"settings": created},
			Target: models.Target{Table: store.TableAISettings, ID: created.ID()},
		}, nil
	}

	out, err := updateRecord(ctx, env, store.TableAISettings, "AI settings", "settings", existing.ID(), p)
	out.Target = models.Target{Table: store.TableAISettings, ID: existing.ID()}
	return out, err
}
