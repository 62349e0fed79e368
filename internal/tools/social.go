package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adminpilot/control-plane/internal/store"
	"github.com/adminpilot/control-plane/pkg/models"
)

var socialPlatforms = []string{"facebook", "instagram", "linkedin", "x", "tiktok"}

type listSocialArgs struct {
	Platform string `json:"platform" validate:"omitempty,oneof=facebook instagram linkedin x tiktok"`
}

type publishPostArgs struct {
	IntegrationID string `json:"integration_id" validate:"required,max=64"`
	Content       string `json:"content" validate:"required,max=2800"`
	MediaURL      string `json:"media_url" validate:"omitempty,url,startswith=https://"`
	ScheduledAt   string `json:"scheduled_at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

type triggerWebhookArgs struct {
	URL     string         `json:"url" validate:"required,url,startswith=https://,max=2048"`
	Event   string         `json:"event" validate:"required,max=100"`
	Payload map[string]any `json:"payload"`
}

func socialTools() []Tool {
	return []Tool{
		&typedTool[listSocialArgs]{
			decl: Declaration{
				Name:        "list_social_integrations",
				Description: "List connected social media accounts.",
				Parameters: Object(map[string]*Schema{
					"platform": Enum("Only integrations for this platform", socialPlatforms...),
				}),
				ReadOnly: true,
			},
			run: func(ctx context.Context, env *Env, a listSocialArgs) (Outcome, error) {
				q := store.Query{Limit: maxListLimit}
				if a.Platform != "" {
					q.Filters = map[string]any{"platform": a.Platform}
				}
				rows, err := env.Store.ListRecords(ctx, store.TableSocialIntegrations, q)
				if err != nil {
					return Outcome{}, storeFailure("list social integrations", err)
				}
				// Webhook URLs and tokens stay server-side.
				for _, r := range rows {
					delete(r, "webhook_url")
					delete(r, "access_token")
				}
				return Outcome{Data: map[string]any{"integrations": rows, "count": len(rows)}}, nil
			},
		},
		&typedTool[publishPostArgs]{
			decl: Declaration{
				Name: "publish_social_post",
				Description: "Publish a post through a connected social integration, or schedule it with an RFC 3339 scheduled_at. " +
					"The post is recorded either way.",
				Parameters: Object(map[string]*Schema{
					"integration_id": String("Social integration id"),
					"content":        String("Post text"),
					"media_url":      String("Optional https URL of an image or video"),
					"scheduled_at":   String("When to publish, RFC 3339"),
				}, "integration_id", "content"),
			},
			describe: func(a publishPostArgs) string { return "publish a post via integration " + a.IntegrationID },
			run:      publishPost,
		},
		&typedTool[triggerWebhookArgs]{
			decl: Declaration{
				Name:        "trigger_webhook",
				Description: "POST a signed JSON event to an https webhook URL.",
				Parameters: Object(map[string]*Schema{
					"url":     String("https endpoint"),
					"event":   String("Event name, e.g. contact.updated"),
					"payload": FreeObject("JSON payload"),
				}, "url", "event"),
			},
			describe: func(a triggerWebhookArgs) string { return "send event " + a.Event + " to " + a.URL },
			run: func(ctx context.Context, env *Env, a triggerWebhookArgs) (Outcome, error) {
				if env.Webhooks == nil {
					return Outcome{}, errNotConfigured("webhooks")
				}
				d, err := env.Webhooks.Post(ctx, a.URL, a.Event, a.Payload)
				if err != nil {
					return Outcome{}, err
				}
				return Outcome{
					Data:   map[string]any{"delivery": d},
					Target: models.Target{Table: "webhook", ID: d.ID},
				}, nil
			},
		},
	}
}

func publishPost(ctx context.Context, env *Env, a publishPostArgs) (Outcome, error) {
	integ, err := fetch(ctx, env, store.TableSocialIntegrations, "social integration", a.IntegrationID)
	if err != nil {
		return Outcome{}, err
	}
	if s := integ.String("status"); s != "" && s != "connected" {
		return Outcome{}, fmt.Errorf("social integration %s is %s", a.IntegrationID, s)
	}

	post := store.Record{
		"integration_id": a.IntegrationID,
		"platform":       integ.String("platform"),
		"content":        strings.TrimSpace(a.Content),
		"source":         "admin_agent",
	}
	if a.MediaURL != "" {
		post["media_url"] = a.MediaURL
	}

	if a.ScheduledAt != "" {
		at, err := time.Parse(time.RFC3339, a.ScheduledAt)
		if err != nil {
			return Outcome{}, fmt.Errorf("scheduled_at must be an RFC 3339 timestamp")
		}
		if !at.After(env.now()) {
			return Outcome{}, fmt.Errorf("scheduled_at must be in the future")
		}
		post["status"] = "scheduled"
		post["scheduled_at"] = at.UTC()
		return insertPost(ctx, env, post, nil)
	}

	hook := integ.String("webhook_url")
	if hook == "" {
		return Outcome{}, fmt.Errorf("social integration %s has no publishing endpoint", a.IntegrationID)
	}
	if env.Webhooks == nil {
		return Outcome{}, errNotConfigured("webhooks")
	}
	d, sendErr := env.Webhooks.Post(ctx, hook, "social.post.publish", map[string]any{
		"platform":  integ.String("platform"),
		"account":   integ.String("account_name"),
		"content":   post["content"],
		"media_url": a.MediaURL,
	})
	if sendErr != nil {
		post["status"] = "failed"
		post["error"] = sendErr.Error()
		if _, err := insertPost(ctx, env, post, nil); err != nil {
			return Outcome{}, err
		}
		return Outcome{}, fmt.Errorf("publishing failed: %w", sendErr)
	}
	post["status"] = "published"
	post["published_at"] = env.now()
	post["external_id"] = d.ID
	return insertPost(ctx, env, post, d)
}

func insertPost(ctx context.Context, env *Env, post store.Record, d any) (Outcome, error) {
	created, err := env.Store.InsertRecord(ctx, store.TableSocialPosts, post)
	if err != nil {
		return Outcome{}, storeFailure("record social post", err)
	}
	data := map[string]any{"post": brief(created, "integration_id", "platform", "status", "scheduled_at", "published_at", "external_id")}
	if d != nil {
		data["delivery"] = d
	}
	return Outcome{
		Data:   data,
		Target: models.Target{Table: store.TableSocialPosts, ID: created.ID()},
	}, nil
}
