package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adminpilot/control-plane/internal/integrations"
	"github.com/adminpilot/control-plane/internal/store"
	"github.com/adminpilot/control-plane/pkg/models"
)

var campaignStatuses = []string{"draft", "scheduled", "sending", "sent"}

type listTemplatesArgs struct {
	Search string `json:"search" validate:"max=200"`
	Limit  int    `json:"limit" validate:"min=0,max=100"`
}

type createTemplateArgs struct {
	Name     string `json:"name" validate:"required,max=200"`
	Subject  string `json:"subject" validate:"required,max=300"`
	Body     string `json:"body" validate:"required,max=100000"`
	Category string `json:"category" validate:"max=100"`
}

type updateTemplateArgs struct {
	TemplateID string  `json:"template_id" validate:"required,max=64"`
	Name       *string `json:"name" validate:"omitempty,min=1,max=200"`
	Subject    *string `json:"subject" validate:"omitempty,min=1,max=300"`
	Body       *string `json:"body" validate:"omitempty,min=1,max=100000"`
	Category   *string `json:"category" validate:"omitempty,max=100"`
}

type templateIDArgs struct {
	TemplateID string `json:"template_id" validate:"required,max=64"`
}

type listCampaignsArgs struct {
	Status string `json:"status" validate:"omitempty,oneof=draft scheduled sending sent"`
	Limit  int    `json:"limit" validate:"min=0,max=100"`
}

type createCampaignArgs struct {
	Name        string `json:"name" validate:"required,max=200"`
	Subject     string `json:"subject" validate:"required,max=300"`
	TemplateID  string `json:"template_id" validate:"required_without=Body,omitempty,max=64"`
	Body        string `json:"body" validate:"required_without=TemplateID,omitempty,max=100000"`
	AudienceTag string `json:"audience_tag" validate:"max=50"`
	ScheduledAt string `json:"scheduled_at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

type campaignIDArgs struct {
	CampaignID string `json:"campaign_id" validate:"required,max=64"`
}

type sendTestEmailArgs struct {
	To         string `json:"to" validate:"required,email"`
	TemplateID string `json:"template_id" validate:"required_without=Body,omitempty,max=64"`
	Subject    string `json:"subject" validate:"max=300"`
	Body       string `json:"body" validate:"required_without=TemplateID,omitempty,max=100000"`
}

func emailTools() []Tool {
	templateID := String("Email template id")
	campaignID := String("Email campaign id")

	return []Tool{
		&typedTool[listTemplatesArgs]{
			decl: Declaration{
				Name:        "list_email_templates",
				Description: "List email templates, optionally searching by name or subject.",
				Parameters: Object(map[string]*Schema{
					"search": String("Text to search for in name or subject"),
					"limit":  Integer("Maximum number of templates (default 20, max 100)"),
				}),
				ReadOnly: true,
			},
			run: func(ctx context.Context, env *Env, a listTemplatesArgs) (Outcome, error) {
				q := store.Query{Limit: clampLimit(a.Limit)}
				if s := strings.TrimSpace(a.Search); s != "" {
					q.Search = &store.Search{Columns: []string{"name", "subject"}, Term: s}
				}
				rows, err := env.Store.ListRecords(ctx, store.TableEmailTemplates, q)
				if err != nil {
					return Outcome{}, storeFailure("list email templates", err)
				}
				return Outcome{Data: map[string]any{"templates": rows, "count": len(rows)}}, nil
			},
		},
		&typedTool[createTemplateArgs]{
			decl: Declaration{
				Name:        "create_email_template",
				Description: "Create a reusable email template. The body may contain HTML.",
				Parameters: Object(map[string]*Schema{
					"name":     String("Template name"),
					"subject":  String("Subject line"),
					"body":     String("Email body (HTML allowed)"),
					"category": String("Optional category, e.g. newsletter or onboarding"),
				}, "name", "subject", "body"),
			},
			describe: func(a createTemplateArgs) string { return "create email template " + a.Name },
			run: func(ctx context.Context, env *Env, a createTemplateArgs) (Outcome, error) {
				rec := store.Record{
					"name":    strings.TrimSpace(a.Name),
					"subject": a.Subject,
					"body":    a.Body,
					"source":  "admin_agent",
				}
				if a.Category != "" {
					rec["category"] = a.Category
				}
				created, err := env.Store.InsertRecord(ctx, store.TableEmailTemplates, rec)
				if err != nil {
					return Outcome{}, storeFailure("create email template", err)
				}
				return Outcome{
					Data:   map[string]any{"template": brief(created, "name", "subject", "category")},
					Target: models.Target{Table: store.TableEmailTemplates, ID: created.ID()},
				}, nil
			},
		},
		&typedTool[updateTemplateArgs]{
			decl: Declaration{
				Name:        "update_email_template",
				Description: "Update fields of an email template. Only the given fields change.",
				Parameters: Object(map[string]*Schema{
					"template_id": templateID,
					"name":        String("New name"),
					"subject":     String("New subject line"),
					"body":        String("New body"),
					"category":    String("New category"),
				}, "template_id"),
			},
			target: func(a updateTemplateArgs) models.Target {
				return models.Target{Table: store.TableEmailTemplates, ID: a.TemplateID}
			},
			run: func(ctx context.Context, env *Env, a updateTemplateArgs) (Outcome, error) {
				p := patch{}
				p.str("name", a.Name)
				p.str("subject", a.Subject)
				if a.Body != nil {
					p["body"] = *a.Body
				}
				p.str("category", a.Category)
				return updateRecord(ctx, env, store.TableEmailTemplates, "email template", "template", a.TemplateID, p)
			},
		},
		&typedTool[templateIDArgs]{
			decl: Declaration{
				Name:        "delete_email_template",
				Description: "Permanently delete an email template.",
				Parameters:  Object(map[string]*Schema{"template_id": templateID}, "template_id"),
				Destructive: true,
			},
			target: func(a templateIDArgs) models.Target {
				return models.Target{Table: store.TableEmailTemplates, ID: a.TemplateID}
			},
			describe: func(a templateIDArgs) string { return "permanently delete email template " + a.TemplateID },
			run: func(ctx context.Context, env *Env, a templateIDArgs) (Outcome, error) {
				return deleteRecord(ctx, env, store.TableEmailTemplates, "email template", a.TemplateID)
			},
		},
		&typedTool[listCampaignsArgs]{
			decl: Declaration{
				Name:        "list_email_campaigns",
				Description: "List email campaigns, newest first.",
				Parameters: Object(map[string]*Schema{
					"status": Enum("Only campaigns with this status", campaignStatuses...),
					"limit":  Integer("Maximum number of campaigns (default 20, max 100)"),
				}),
				ReadOnly: true,
			},
			run: func(ctx context.Context, env *Env, a listCampaignsArgs) (Outcome, error) {
				q := store.Query{Limit: clampLimit(a.Limit)}
				if a.Status != "" {
					q.Filters = map[string]any{"status": a.Status}
				}
				rows, err := env.Store.ListRecords(ctx, store.TableEmailCampaigns, q)
				if err != nil {
					return Outcome{}, storeFailure("list email campaigns", err)
				}
				return Outcome{Data: map[string]any{"campaigns": rows, "count": len(rows)}}, nil
			},
		},
		&typedTool[createCampaignArgs]{
			decl: Declaration{
				Name: "create_email_campaign",
				Description: "Create an email campaign from a template or an inline body. " +
					"Without scheduled_at it is saved as a draft; with a future RFC 3339 scheduled_at it is scheduled.",
				Parameters: Object(map[string]*Schema{
					"name":         String("Campaign name"),
					"subject":      String("Subject line"),
					"template_id":  String("Template to use for the body"),
					"body":         String("Inline body, used when no template is given"),
					"audience_tag": String("Only send to active contacts carrying this tag"),
					"scheduled_at": String("When to send, RFC 3339 (e.g. 2025-07-01T09:00:00Z)"),
				}, "name", "subject"),
			},
			describe: func(a createCampaignArgs) string { return "create email campaign " + a.Name },
			run:      createCampaign,
		},
		&typedTool[sendTestEmailArgs]{
			decl: Declaration{
				Name:        "send_test_email",
				Description: "Send a single test email, either from a template or with an inline subject and body.",
				Parameters: Object(map[string]*Schema{
					"to":          String("Recipient email address"),
					"template_id": String("Template to render"),
					"subject":     String("Subject line when no template is given"),
					"body":        String("Body when no template is given"),
				}, "to"),
			},
			describe: func(a sendTestEmailArgs) string { return "send a test email to " + a.To },
			run:      sendTestEmail,
		},
		&typedTool[campaignIDArgs]{
			decl: Declaration{
				Name:        "delete_email_campaign",
				Description: "Permanently delete an email campaign.",
				Parameters:  Object(map[string]*Schema{"campaign_id": campaignID}, "campaign_id"),
				Destructive: true,
			},
			target: func(a campaignIDArgs) models.Target {
				return models.Target{Table: store.TableEmailCampaigns, ID: a.CampaignID}
			},
			describe: func(a campaignIDArgs) string { return "permanently delete email campaign " + a.CampaignID },
			run: func(ctx context.Context, env *Env, a campaignIDArgs) (Outcome, error) {
				return deleteRecord(ctx, env, store.TableEmailCampaigns, "email campaign", a.CampaignID)
			},
		},
	}
}

func createCampaign(ctx context.Context, env *Env, a createCampaignArgs) (Outcome, error) {
	rec := store.Record{
		"name":    strings.TrimSpace(a.Name),
		"subject": a.Subject,
		"status":  "draft",
		"source":  "admin_agent",
	}

	if a.TemplateID != "" {
		if _, err := fetch(ctx, env, store.TableEmailTemplates, "email template", a.TemplateID); err != nil {
			return Outcome{}, err
		}
		rec["template_id"] = a.TemplateID
	} else {
		rec["body"] = a.Body
	}

	if a.ScheduledAt != "" {
		at, err := time.Parse(time.RFC3339, a.ScheduledAt)
		if err != nil {
			return Outcome{}, fmt.Errorf("scheduled_at must be an RFC 3339 timestamp")
		}
		if !at.After(env.now()) {
			return Outcome{}, fmt.Errorf("scheduled_at must be in the future")
		}
		rec["status"] = "scheduled"
		rec["scheduled_at"] = at.UTC()
	}

	if a.AudienceTag != "" {
		rec["audience_tag"] = a.AudienceTag
	} else if n, err := env.Store.CountRecords(ctx, store.TableContacts, map[string]any{"status": "active"}); err == nil {
		rec["recipient_count"] = n
	}

	created, err := env.Store.InsertRecord(ctx, store.TableEmailCampaigns, rec)
	if err != nil {
		return Outcome{}, storeFailure("create email campaign", err)
	}
	return Outcome{
		Data: map[string]any{"campaign": brief(created,
			"name", "status", "scheduled_at", "template_id", "audience_tag", "recipient_count")},
		Target: models.Target{Table: store.TableEmailCampaigns, ID: created.ID()},
	}, nil
}

func sendTestEmail(ctx context.Context, env *Env, a sendTestEmailArgs) (Outcome, error) {
	if !configured(env.Mailer) {
		return Outcome{}, errNotConfigured("email")
	}

	subject, body := a.Subject, a.Body
	target := models.Target{}
	if a.TemplateID != "" {
		tpl, err := fetch(ctx, env, store.TableEmailTemplates, "email template", a.TemplateID)
		if err != nil {
			return Outcome{}, err
		}
		if subject == "" {
			subject = tpl.String("subject")
		}
		body = tpl.String("body")
		target = models.Target{Table: store.TableEmailTemplates, ID: a.TemplateID}
	}
	if subject == "" {
		subject = "Test email"
	}

	d, err := env.Mailer.Send(ctx, integrations.EmailMessage{
		To:      []string{a.To},
		Subject: "[Test] " + subject,
		HTML:    body,
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Data: map[string]any{"delivery": d, "to": a.To}, Target: target}, nil
}

// updateRecord applies a non-empty patch and maps not-found to a readable error.
func updateRecord(ctx context.Context, env *Env, table, noun, key, id string, p patch) (Outcome, error) {
	if len(p) == 0 {
		return Outcome{}, errNoFields
	}
	updated, err := env.Store.UpdateRecord(ctx, table, id, store.Record(p))
	if store.IsNotFound(err) {
		return Outcome{}, fmt.Errorf("%s %s not found", noun, id)
	}
	if err != nil {
		return Outcome{}, storeFailure("update "+noun, err)
	}
	return Outcome{Data: map[string]any{key: brief(updated, p.columns()...)}}, nil
}

func deleteRecord(ctx context.Context, env *Env, table, noun, id string) (Outcome, error) {
	err := env.Store.DeleteRecord(ctx, table, id)
	if store.IsNotFound(err) {
		return Outcome{}, fmt.Errorf("%s %s not found", noun, id)
	}
	if err != nil {
		return Outcome{}, storeFailure("delete "+noun, err)
	}
	return Outcome{Data: map[string]any{"deleted": true, "id": id}}, nil
}
