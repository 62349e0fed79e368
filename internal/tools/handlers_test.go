package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/adminpilot/control-plane/internal/integrations"
	"github.com/adminpilot/control-plane/internal/store"
	"github.com/adminpilot/control-plane/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newEnv(t *testing.T) *tools.Env {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	return &tools.Env{Store: s, Now: func() time.Time { return fixedNow }}
}

func run(t *testing.T, env *tools.Env, name, args string) (tools.Outcome, error) {
	t.Helper()
	tool, ok := tools.NewRegistry().Lookup(name)
	require.True(t, ok, "tool %s not registered", name)
	call, err := tool.Bind(json.RawMessage(args))
	require.NoError(t, err, "bind %s", name)
	return call.Run(context.Background(), env)
}

func data(t *testing.T, out tools.Outcome) map[string]any {
	t.Helper()
	m, ok := out.Data.(map[string]any)
	require.True(t, ok, "outcome data is %T", out.Data)
	return m
}

func insert(t *testing.T, env *tools.Env, table string, rec store.Record) store.Record {
	t.Helper()
	created, err := env.Store.InsertRecord(context.Background(), table, rec)
	require.NoError(t, err)
	return created
}

// ─── Contacts ────────────────────────────────────────────────

func TestCreateContact_RejectsDuplicateEmail(t *testing.T) {
	env := newEnv(t)

	out, err := run(t, env, "create_contact", `{"name":"Ada","email":"Ada@Example.com"}`)
	require.NoError(t, err)
	assert.Equal(t, store.TableContacts, out.Target.Table)
	assert.NotEmpty(t, out.Target.ID)

	_, err = run(t, env, "create_contact", `{"name":"Ada Again","email":"ada@example.com"}`)
	require.Error(t, err)
	assert.Equal(t, "a contact with email ada@example.com already exists", err.Error())
}

func TestBulkDeleteContacts_ReportsActualCount(t *testing.T) {
	env := newEnv(t)
	a := insert(t, env, store.TableContacts, store.Record{"name": "A"})
	b := insert(t, env, store.TableContacts, store.Record{"name": "B"})
	insert(t, env, store.TableContacts, store.Record{"name": "C"})

	out, err := run(t, env, "bulk_delete_contacts",
		`{"contact_ids":["`+a.ID()+`","`+b.ID()+`","ghost"]}`)
	require.NoError(t, err)

	d := data(t, out)
	assert.Equal(t, 3, d["requested"])
	assert.Equal(t, 2, d["deleted"])
	assert.Equal(t, []string{"ghost"}, d["missing"])
	assert.Equal(t, "deleted 2 of 3 contacts", d["message"])

	left, _ := env.Store.CountRecords(context.Background(), store.TableContacts, nil)
	assert.Equal(t, int64(1), left)
}

// flakyStore fails writes against the listed tables.
type flakyStore struct {
	store.Store
	failDelete, failUpdate string
}

func (s *flakyStore) DeleteRecord(ctx context.Context, table, id string) error {
	if table == s.failDelete {
		return errors.New("connection reset by peer")
	}
	return s.Store.DeleteRecord(ctx, table, id)
}

func (s *flakyStore) UpdateRecord(ctx context.Context, table, id string, patch store.Record) (store.Record, error) {
	if table == s.failUpdate {
		return nil, errors.New("connection reset by peer")
	}
	return s.Store.UpdateRecord(ctx, table, id, patch)
}

func TestBulkDeleteContacts_ReportsStoreFailures(t *testing.T) {
	env := newEnv(t)
	a := insert(t, env, store.TableContacts, store.Record{"name": "A"})
	env.Store = &flakyStore{Store: env.Store, failDelete: store.TableContacts}

	out, err := run(t, env, "bulk_delete_contacts", `{"contact_ids":["`+a.ID()+`"]}`)
	require.NoError(t, err)

	d := data(t, out)
	assert.Equal(t, 0, d["deleted"])
	assert.Equal(t, []string{a.ID()}, d["failed"])
	assert.Equal(t, map[string]string{a.ID(): "could not delete contact"}, d["errors"])
}

func TestTagContacts_ReportsStoreFailures(t *testing.T) {
	env := newEnv(t)
	a := insert(t, env, store.TableContacts, store.Record{"name": "A"})
	env.Store = &flakyStore{Store: env.Store, failUpdate: store.TableContacts}

	out, err := run(t, env, "tag_contacts", `{"contact_ids":["`+a.ID()+`"],"tag":"vip"}`)
	require.NoError(t, err)

	d := data(t, out)
	assert.Equal(t, 0, d["tagged"])
	assert.Equal(t, map[string]string{a.ID(): "could not tag contact"}, d["errors"])
}

func TestTagContacts(t *testing.T) {
	env := newEnv(t)
	a := insert(t, env, store.TableContacts, store.Record{"name": "A", "tags": []string{"vip"}})
	b := insert(t, env, store.TableContacts, store.Record{"name": "B"})

	out, err := run(t, env, "tag_contacts",
		`{"contact_ids":["`+a.ID()+`","`+b.ID()+`","nobody"],"tag":"vip"}`)
	require.NoError(t, err)

	d := data(t, out)
	assert.Equal(t, 1, d["tagged"])
	assert.Equal(t, 1, d["already_tagged"])
	assert.Equal(t, []string{"nobody"}, d["missing"])

	got, _ := env.Store.GetRecord(context.Background(), store.TableContacts, b.ID())
	assert.Equal(t, []string{"vip"}, got["tags"])
}

func TestUpdateContact_NoFields(t *testing.T) {
	env := newEnv(t)
	c := insert(t, env, store.TableContacts, store.Record{"name": "A"})

	_, err := run(t, env, "update_contact", `{"contact_id":"`+c.ID()+`"}`)
	require.Error(t, err)
	assert.Equal(t, "no fields to update", err.Error())

	_, err = run(t, env, "update_contact", `{"contact_id":"missing","name":"B"}`)
	require.Error(t, err)
	assert.Equal(t, "contact missing not found", err.Error())
}

// ─── Chat ────────────────────────────────────────────────────

func TestDeleteConversation_RemovesMessages(t *testing.T) {
	env := newEnv(t)
	conv := insert(t, env, store.TableConversations, store.Record{"status": "open"})
	for i := 0; i < 3; i++ {
		insert(t, env, store.TableMessages, store.Record{"conversation_id": conv.ID(), "content": "hi"})
	}

	out, err := run(t, env, "delete_conversation", `{"conversation_id":"`+conv.ID()+`"}`)
	require.NoError(t, err)
	assert.Equal(t, int64(3), data(t, out)["messages_deleted"])

	n, _ := env.Store.CountRecords(context.Background(), store.TableMessages, map[string]any{"conversation_id": conv.ID()})
	assert.Zero(t, n)
	_, err = env.Store.GetRecord(context.Background(), store.TableConversations, conv.ID())
	assert.True(t, store.IsNotFound(err))
}

func TestSendChatMessage_ClosedConversation(t *testing.T) {
	env := newEnv(t)
	conv := insert(t, env, store.TableConversations, store.Record{"status": "open"})

	out, err := run(t, env, "send_chat_message", `{"conversation_id":"`+conv.ID()+`","content":"Thanks!"}`)
	require.NoError(t, err)
	assert.Equal(t, store.TableMessages, out.Target.Table)

	_, err = run(t, env, "close_conversation", `{"conversation_id":"`+conv.ID()+`"}`)
	require.NoError(t, err)
	again, err := run(t, env, "close_conversation", `{"conversation_id":"`+conv.ID()+`"}`)
	require.NoError(t, err)
	assert.Equal(t, true, data(t, again)["already_closed"])

	_, err = run(t, env, "send_chat_message", `{"conversation_id":"`+conv.ID()+`","content":"Hello?"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is closed")
}

func TestSendChatMessage_StaleConversationReported(t *testing.T) {
	env := newEnv(t)
	conv := insert(t, env, store.TableConversations, store.Record{"status": "open"})
	env.Store = &flakyStore{Store: env.Store, failUpdate: store.TableConversations}

	out, err := run(t, env, "send_chat_message", `{"conversation_id":"`+conv.ID()+`","content":"Thanks!"}`)
	require.NoError(t, err)

	d := data(t, out)
	assert.Equal(t, false, d["conversation_updated"])
	assert.Equal(t, "could not touch conversation", d["update_error"])
	assert.Equal(t, store.TableMessages, out.Target.Table)
}

type fakeMessenger struct {
	to, body string
	err      error
}

func (f *fakeMessenger) SendText(_ context.Context, to, body string) (*integrations.Delivery, error) {
	f.to, f.body = to, body
	if f.err != nil {
		return nil, f.err
	}
	return &integrations.Delivery{Service: "whatsapp", ID: "wamid.1", StatusCode: 200, Attempts: 1}, nil
}

func TestSendWhatsApp(t *testing.T) {
	env := newEnv(t)

	_, err := run(t, env, "send_whatsapp_message", `{"phone_number":"+15551234567","message":"hi"}`)
	require.Error(t, err)
	assert.Equal(t, "whatsapp not configured", err.Error())

	m := &fakeMessenger{}
	env.Messenger = m
	conv := insert(t, env, store.TableConversations, store.Record{"status": "open"})

	out, err := run(t, env, "send_whatsapp_message",
		`{"phone_number":"+15551234567","message":"hi","conversation_id":"`+conv.ID()+`"}`)
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", m.to)
	assert.Equal(t, true, data(t, out)["recorded"])
	assert.Equal(t, store.TableMessages, out.Target.Table)
}

// ─── Email ───────────────────────────────────────────────────

type fakeMailer struct{ sent []integrations.EmailMessage }

func (f *fakeMailer) Send(_ context.Context, msg integrations.EmailMessage) (*integrations.Delivery, error) {
	f.sent = append(f.sent, msg)
	return &integrations.Delivery{Service: "email", ID: "em_1", StatusCode: 200, Attempts: 1}, nil
}

func TestSendTestEmail_FromTemplate(t *testing.T) {
	env := newEnv(t)
	mailer := &fakeMailer{}
	env.Mailer = mailer
	tpl := insert(t, env, store.TableEmailTemplates, store.Record{"name": "welcome", "subject": "Welcome", "body": "<p>Hi</p>"})

	out, err := run(t, env, "send_test_email", `{"to":"ops@example.com","template_id":"`+tpl.ID()+`"}`)
	require.NoError(t, err)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "[Test] Welcome", mailer.sent[0].Subject)
	assert.Equal(t, "<p>Hi</p>", mailer.sent[0].HTML)
	assert.Equal(t, tpl.ID(), out.Target.ID)
}

func TestCreateEmailCampaign(t *testing.T) {
	env := newEnv(t)
	insert(t, env, store.TableContacts, store.Record{"name": "A", "status": "active"})

	out, err := run(t, env, "create_email_campaign", `{"name":"June","subject":"News","body":"<p>x</p>"}`)
	require.NoError(t, err)
	c := data(t, out)["campaign"].(store.Record)
	assert.Equal(t, "draft", c["status"])
	assert.Equal(t, int64(1), c["recipient_count"])

	_, err = run(t, env, "create_email_campaign", `{"name":"Past","subject":"x","body":"y","scheduled_at":"2020-01-01T00:00:00Z"}`)
	require.Error(t, err)
	assert.Equal(t, "scheduled_at must be in the future", err.Error())

	out, err = run(t, env, "create_email_campaign", `{"name":"Later","subject":"x","body":"y","scheduled_at":"2030-01-01T09:00:00Z"}`)
	require.NoError(t, err)
	assert.Equal(t, "scheduled", data(t, out)["campaign"].(store.Record)["status"])

	_, err = run(t, env, "create_email_campaign", `{"name":"T","subject":"x","template_id":"nope"}`)
	require.Error(t, err)
	assert.Equal(t, "email template nope not found", err.Error())
}

func TestMutationsReportBriefRows(t *testing.T) {
	env := newEnv(t)

	out, err := run(t, env, "create_contact", `{"name":"Ada","email":"ada@example.com","notes":"met at the expo"}`)
	require.NoError(t, err)
	id := out.Target.ID
	c := data(t, out)["contact"].(store.Record)
	assert.Equal(t, id, c["id"])
	assert.Equal(t, "ada@example.com", c["email"])
	assert.NotContains(t, c, "notes")
	assert.NotContains(t, c, "source")

	out, err = run(t, env, "update_contact", `{"contact_id":"`+id+`","status":"inactive"}`)
	require.NoError(t, err)
	u := data(t, out)["contact"].(store.Record)
	assert.Equal(t, "inactive", u["status"])
	assert.Contains(t, u, "updated_at")
	assert.NotContains(t, u, "email")
}

// ─── AI settings ─────────────────────────────────────────────

func TestAISettings_DefaultsThenUpsert(t *testing.T) {
	env := newEnv(t)

	out, err := run(t, env, "get_ai_settings", `{}`)
	require.NoError(t, err)
	assert.Equal(t, false, data(t, out)["saved"])

	_, err = run(t, env, "update_ai_settings", `{"tone":"formal"}`)
	require.NoError(t, err)
	_, err = run(t, env, "update_ai_settings", `{"greeting_message":"Hello there"}`)
	require.NoError(t, err)

	n, _ := env.Store.CountRecords(context.Background(), store.TableAISettings, nil)
	assert.Equal(t, int64(1), n)

	out, err = run(t, env, "get_ai_settings", `{}`)
	require.NoError(t, err)
	d := data(t, out)
	assert.Equal(t, true, d["saved"])
	settings := d["settings"].(store.Record)
	assert.Equal(t, "formal", settings["tone"])
	assert.Equal(t, "Hello there", settings["greeting_message"])
}

// ─── Automation ──────────────────────────────────────────────

func TestEvaluateCondition(t *testing.T) {
	payload := map[string]any{
		"contact": map[string]any{"country": "DE"},
		"order":   map[string]any{"total": 150},
	}

	ok, err := tools.EvaluateCondition(`contact.country == "DE" && order.total > 100`, payload)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tools.EvaluateCondition(`order.total > 1000`, payload)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = tools.EvaluateCondition(`order.total +`, payload)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "invalid condition"))
}

func TestAutomationRuleLifecycle(t *testing.T) {
	env := newEnv(t)

	out, err := run(t, env, "create_automation_rule",
		`{"name":"VIP","trigger_event":"new_contact","action_type":"tag_contact","condition":"contact.score >= 90","action_config":{"tag":"vip"}}`)
	require.NoError(t, err)
	ruleID := out.Target.ID
	rule := data(t, out)["rule"].(store.Record)
	assert.Equal(t, true, rule["enabled"])

	out, err = run(t, env, "test_automation_rule", `{"rule_id":"`+ruleID+`","payload":{"contact":{"score":95}}}`)
	require.NoError(t, err)
	assert.Equal(t, true, data(t, out)["matched"])

	out, err = run(t, env, "toggle_automation_rule", `{"rule_id":"`+ruleID+`","enabled":false}`)
	require.NoError(t, err)
	assert.Equal(t, false, data(t, out)["rule"].(store.Record)["enabled"])

	_, err = run(t, env, "delete_automation_rule", `{"rule_id":"`+ruleID+`"}`)
	require.NoError(t, err)
	_, err = run(t, env, "delete_automation_rule", `{"rule_id":"`+ruleID+`"}`)
	require.Error(t, err)
	assert.Equal(t, "automation rule "+ruleID+" not found", err.Error())
}

// ─── Social and webhooks ─────────────────────────────────────

type fakeWebhooks struct {
	url, event string
	err        error
}

func (f *fakeWebhooks) Post(_ context.Context, url, event string, _ any) (*integrations.Delivery, error) {
	f.url, f.event = url, event
	if f.err != nil {
		return nil, f.err
	}
	return &integrations.Delivery{Service: "webhook", ID: "evt_1", StatusCode: 202, Attempts: 1}, nil
}

func TestPublishSocialPost(t *testing.T) {
	env := newEnv(t)
	hooks := &fakeWebhooks{}
	env.Webhooks = hooks
	integ := insert(t, env, store.TableSocialIntegrations, store.Record{
		"platform":     "linkedin",
		"status":       "connected",
		"webhook_url":  "https://hooks.example.com/li",
		"access_token": "secret",
	})

	list, err := run(t, env, "list_social_integrations", `{}`)
	require.NoError(t, err)
	rows := data(t, list)["integrations"].([]store.Record)
	require.Len(t, rows, 1)
	assert.NotContains(t, rows[0], "webhook_url")
	assert.NotContains(t, rows[0], "access_token")

	out, err := run(t, env, "publish_social_post", `{"integration_id":"`+integ.ID()+`","content":"Launch day"}`)
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example.com/li", hooks.url)
	assert.Equal(t, "social.post.publish", hooks.event)
	assert.Equal(t, "published", data(t, out)["post"].(store.Record)["status"])

	hooks.err = errors.New("webhook returned HTTP 500")
	_, err = run(t, env, "publish_social_post", `{"integration_id":"`+integ.ID()+`","content":"Again"}`)
	require.Error(t, err)

	failed, _ := env.Store.CountRecords(context.Background(), store.TableSocialPosts, map[string]any{"status": "failed"})
	assert.Equal(t, int64(1), failed)
}

// ─── Export ──────────────────────────────────────────────────

type fakeExporter struct {
	key  string
	body []byte
}

func (f *fakeExporter) Upload(_ context.Context, key string, body []byte, _ string) (*integrations.ExportObject, error) {
	f.key, f.body = key, body
	return &integrations.ExportObject{Bucket: "exports", Key: key, Size: int64(len(body))}, nil
}

func TestExportTable(t *testing.T) {
	env := newEnv(t)

	_, err := run(t, env, "export_table", `{"table":"contacts"}`)
	require.Error(t, err)
	assert.Equal(t, "export storage not configured", err.Error())

	exp := &fakeExporter{}
	env.Exporter = exp
	insert(t, env, store.TableContacts, store.Record{"name": "Ada", "email": "ada@example.com"})

	out, err := run(t, env, "export_table", `{"table":"contacts"}`)
	require.NoError(t, err)
	assert.Equal(t, 1, data(t, out)["rows"])
	assert.True(t, strings.HasPrefix(exp.key, "exports/contacts/20250601T120000Z-"))

	lines := strings.Split(strings.TrimSpace(string(exp.body)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "id,created_at,email,name", lines[0])
}

type listCountingStore struct {
	store.Store
	lists int
}

func (s *listCountingStore) ListRecords(ctx context.Context, table string, q store.Query) ([]store.Record, error) {
	s.lists++
	return s.Store.ListRecords(ctx, table, q)
}

func TestExportTable_UnconfiguredClientSkipsRead(t *testing.T) {
	env := newEnv(t)
	counting := &listCountingStore{Store: env.Store}
	env.Store = counting
	env.Exporter = &integrations.ExportClient{}
	insert(t, env, store.TableContacts, store.Record{"name": "Ada"})

	_, err := run(t, env, "export_table", `{"table":"contacts"}`)
	require.Error(t, err)
	assert.Equal(t, "export storage not configured", err.Error())
	assert.Zero(t, counting.lists, "rows were read before the storage check")
}
