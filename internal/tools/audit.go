package tools

import (
	"context"
	"time"

	"github.com/adminpilot/control-plane/pkg/models"
)

type recentActionsArgs struct {
	ActorID     string `json:"actor_id" validate:"max=200"`
	Action      string `json:"action" validate:"max=100"`
	TargetTable string `json:"target_table" validate:"max=100"`
	SinceHours  int    `json:"since_hours" validate:"min=0,max=8760"`
	Limit       int    `json:"limit" validate:"min=0,max=100"`
}

func auditTools() []Tool {
	return []Tool{
		&typedTool[recentActionsArgs]{
			decl: Declaration{
				Name:        "list_recent_actions",
				Description: "Read the admin audit trail of actions taken through this assistant, newest first.",
				Parameters: Object(map[string]*Schema{
					"actor_id":     String("Only actions by this admin"),
					"action":       String("Only this action, e.g. ai_delete_contact"),
					"target_table": String("Only actions on this table"),
					"since_hours":  Integer("Only actions from the last N hours"),
					"limit":        Integer("Maximum number of entries (default 20, max 100)"),
				}),
				ReadOnly: true,
			},
			run: func(ctx context.Context, env *Env, a recentActionsArgs) (Outcome, error) {
				f := models.ActionFilter{
					ActorID:     a.ActorID,
					Action:      a.Action,
					TargetTable: a.TargetTable,
					Limit:       clampLimit(a.Limit),
				}
				if a.SinceHours > 0 {
					since := env.now().Add(-time.Duration(a.SinceHours) * time.Hour)
					f.Since = &since
				}
				actions, err := env.Store.ListActions(ctx, f)
				if err != nil {
					return Outcome{}, storeFailure("read audit trail", err)
				}
				if actions == nil {
					actions = []models.ActionRecord{}
				}
				return Outcome{Data: map[string]any{"actions": actions, "count": len(actions)}}, nil
			},
		},
	}
}
