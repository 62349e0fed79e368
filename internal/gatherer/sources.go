package gatherer

import (
	"context"
	"time"

	"github.com/adminpilot/control-plane/internal/store"
	"github.com/adminpilot/control-plane/pkg/models"
)

func defaultPlans() map[models.RequestContext][]Source {
	return map[models.RequestContext][]Source{
		models.ContextGeneral: {
			contactsSource,
			conversationsSource,
			campaignsSource,
			automationSource,
			socialSource,
			recentActionsSource,
		},
		models.ContextEmailCampaign: {
			contactsSource,
			templatesSource,
			campaignsSource,
			recentActionsSource,
		},
		models.ContextChatSupport: {
			conversationsSource,
			contactsSource,
			aiSettingsSource,
			automationSource,
		},
	}
}

var contactsSource = Source{
	Name: "contacts",
	Fetch: func(ctx context.Context, s store.Store, recent int) (any, error) {
		counts, err := countBy(ctx, s, store.TableContacts, "status", "active", "inactive", "unsubscribed")
		if err != nil {
			return nil, err
		}
		rows, err := s.ListRecords(ctx, store.TableContacts, store.Query{Limit: recent})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"counts": counts,
			"recent": project(rows, "id", "name", "email", "phone", "status", "tags", "created_at"),
		}, nil
	},
}

var conversationsSource = Source{
	Name: "conversations",
	Fetch: func(ctx context.Context, s store.Store, recent int) (any, error) {
		counts, err := countBy(ctx, s, store.TableConversations, "status", "open", "pending", "closed")
		if err != nil {
			return nil, err
		}
		rows, err := s.ListRecords(ctx, store.TableConversations, store.Query{
			Filters: map[string]any{"status": "open"},
			Limit:   recent,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"counts":      counts,
			"recent_open": project(rows, "id", "contact_id", "channel", "subject", "last_message_at", "created_at"),
		}, nil
	},
}

var templatesSource = Source{
	Name: "email_templates",
	Fetch: func(ctx context.Context, s store.Store, recent int) (any, error) {
		total, err := s.CountRecords(ctx, store.TableEmailTemplates, nil)
		if err != nil {
			return nil, err
		}
		rows, err := s.ListRecords(ctx, store.TableEmailTemplates, store.Query{Limit: recent})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"total":  total,
			"recent": project(rows, "id", "name", "subject", "category", "created_at"),
		}, nil
	},
}

var campaignsSource = Source{
	Name: "email_campaigns",
	Fetch: func(ctx context.Context, s store.Store, recent int) (any, error) {
		counts, err := countBy(ctx, s, store.TableEmailCampaigns, "status", "draft", "scheduled", "sending", "sent")
		if err != nil {
			return nil, err
		}
		rows, err := s.ListRecords(ctx, store.TableEmailCampaigns, store.Query{Limit: recent})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"counts": counts,
			"recent": project(rows, "id", "name", "subject", "status", "scheduled_at", "recipient_count", "created_at"),
		}, nil
	},
}

var aiSettingsSource = Source{
	Name: "ai_settings",
	Fetch: func(ctx context.Context, s store.Store, _ int) (any, error) {
		rows, err := s.ListRecords(ctx, store.TableAISettings, store.Query{Limit: 1})
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return map[string]any{"configured": false}, nil
		}
		settings := project(rows, "tone", "auto_reply", "language", "max_response_length", "business_hours")[0]
		settings["configured"] = true
		return settings, nil
	},
}

var automationSource = Source{
	Name: "automation_rules",
	Fetch: func(ctx context.Context, s store.Store, recent int) (any, error) {
		counts, err := countBy(ctx, s, store.TableAutomationRules, "enabled", true, false)
		if err != nil {
			return nil, err
		}
		rows, err := s.ListRecords(ctx, store.TableAutomationRules, store.Query{Limit: recent})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"counts": counts,
			"recent": project(rows, "id", "name", "trigger_event", "action_type", "enabled"),
		}, nil
	},
}

var socialSource = Source{
	Name: "social_integrations",
	Fetch: func(ctx context.Context, s store.Store, recent int) (any, error) {
		rows, err := s.ListRecords(ctx, store.TableSocialIntegrations, store.Query{Limit: recent})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"connected": project(rows, "id", "platform", "account_name", "status"),
		}, nil
	},
}

var recentActionsSource = Source{
	Name: "recent_actions",
	Fetch: func(ctx context.Context, s store.Store, recent int) (any, error) {
		since := time.Now().Add(-24 * time.Hour)
		recs, err := s.ListActions(ctx, models.ActionFilter{Since: &since, Limit: min(recent, 10)})
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(recs))
		for _, r := range recs {
			out = append(out, map[string]any{
				"action":       r.Action,
				"target_table": r.TargetTable,
				"target_id":    r.TargetID,
				"occurred_at":  r.OccurredAt,
			})
		}
		return map[string]any{"last_24h": out}, nil
	},
}

// countBy counts rows per value of col. Values are stringified for the map key.
func countBy(ctx context.Context, s store.Store, table, col string, values ...any) (map[string]int64, error) {
	total, err := s.CountRecords(ctx, table, nil)
	if err != nil {
		return nil, err
	}
	out := map[string]int64{"total": total}
	for _, v := range values {
		n, err := s.CountRecords(ctx, table, map[string]any{col: v})
		if err != nil {
			return nil, err
		}
		out[key(col, v)] = n
	}
	return out, nil
}

func key(col string, v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return col
		}
		return "not_" + col
	}
	return col
}

// project keeps only cols of each row; missing columns are left out.
func project(rows []store.Record, cols ...string) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		m := make(map[string]any, len(cols))
		for _, c := range cols {
			if v, ok := r[c]; ok && v != nil {
				m[c] = v
			}
		}
		out = append(out, m)
	}
	return out
}
