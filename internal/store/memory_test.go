package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adminpilot/control-plane/internal/store"
	"github.com/adminpilot/control-plane/pkg/models"
)

// newTestStore creates a fresh in-memory store for tests with no persistence.
func newTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	return s
}

// ─── Records ─────────────────────────────────────────────────

func TestInsertAndGetRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.InsertRecord(ctx, store.TableContacts, store.Record{"name": "Ada", "email": "ada@example.com"})
	if err != nil {
		t.Fatalf("InsertRecord() error = %v", err)
	}
	if rec.ID() == "" {
		t.Fatal("InsertRecord() did not assign an id")
	}
	if _, ok := rec["created_at"]; !ok {
		t.Error("InsertRecord() did not assign created_at")
	}

	got, err := s.GetRecord(ctx, store.TableContacts, rec.ID())
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if got.String("email") != "ada@example.com" {
		t.Errorf("GetRecord().email = %q, want %q", got.String("email"), "ada@example.com")
	}

	// Mutating the returned copy must not leak into the store.
	got["email"] = "changed@example.com"
	again, _ := s.GetRecord(ctx, store.TableContacts, rec.ID())
	if again.String("email") != "ada@example.com" {
		t.Errorf("store row was mutated through a returned copy")
	}
}

func TestGetRecord_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRecord(context.Background(), store.TableContacts, "missing")
	if !store.IsNotFound(err) {
		t.Fatalf("GetRecord(missing) error = %v, want ErrNotFound", err)
	}
}

func TestUnknownTableRejected(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.InsertRecord(context.Background(), "pg_shadow", store.Record{"x": 1}); err == nil {
		t.Fatal("InsertRecord(unknown table) should fail")
	}
	if _, err := s.InsertRecord(context.Background(), store.TableContacts, store.Record{"bad column": 1}); err == nil {
		t.Fatal("InsertRecord(invalid column) should fail")
	}
}

func TestListRecords_FilterSearchOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, name := range []string{"Alice", "Bob", "Alicia", "Carol"} {
		status := "active"
		if name == "Carol" {
			status = "archived"
		}
		if _, err := s.InsertRecord(ctx, store.TableContacts, store.Record{
			"name":       name,
			"status":     status,
			"created_at": base.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("InsertRecord(%s) error = %v", name, err)
		}
	}

	all, _ := s.ListRecords(ctx, store.TableContacts, store.Query{})
	if len(all) != 4 {
		t.Fatalf("ListRecords() returned %d, want 4", len(all))
	}
	if all[0].String("name") != "Carol" {
		t.Errorf("default order should be newest first, got %q", all[0].String("name"))
	}

	active, _ := s.ListRecords(ctx, store.TableContacts, store.Query{Filters: map[string]any{"status": "active"}})
	if len(active) != 3 {
		t.Errorf("status filter returned %d, want 3", len(active))
	}

	ali, _ := s.ListRecords(ctx, store.TableContacts, store.Query{
		Search:  &store.Search{Columns: []string{"name"}, Term: "ali"},
		OrderBy: "name",
	})
	if len(ali) != 2 || ali[0].String("name") != "Alice" || ali[1].String("name") != "Alicia" {
		t.Errorf("search returned %v, want [Alice Alicia]", ali)
	}

	limited, _ := s.ListRecords(ctx, store.TableContacts, store.Query{Limit: 2, Offset: 1})
	if len(limited) != 2 || limited[0].String("name") != "Alicia" {
		t.Errorf("limit/offset returned %v", limited)
	}
}

func TestUpdateRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, _ := s.InsertRecord(ctx, store.TableConversations, store.Record{"status": "open"})
	updated, err := s.UpdateRecord(ctx, store.TableConversations, rec.ID(), store.Record{"status": "closed", "id": "hijack"})
	if err != nil {
		t.Fatalf("UpdateRecord() error = %v", err)
	}
	if updated.String("status") != "closed" {
		t.Errorf("status = %q, want closed", updated.String("status"))
	}
	if updated.ID() != rec.ID() {
		t.Errorf("UpdateRecord() changed the id to %q", updated.ID())
	}
	if _, ok := updated["updated_at"]; !ok {
		t.Error("UpdateRecord() did not stamp updated_at")
	}

	if _, err := s.UpdateRecord(ctx, store.TableConversations, "nope", store.Record{"status": "x"}); !store.IsNotFound(err) {
		t.Errorf("UpdateRecord(missing) error = %v, want ErrNotFound", err)
	}
}

func TestDeleteRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, _ := s.InsertRecord(ctx, store.TableConversations, store.Record{"status": "open"})
	other, _ := s.InsertRecord(ctx, store.TableConversations, store.Record{"status": "open"})
	for i := 0; i < 3; i++ {
		s.InsertRecord(ctx, store.TableMessages, store.Record{"conversation_id": conv.ID(), "content": "hi"})
	}
	s.InsertRecord(ctx, store.TableMessages, store.Record{"conversation_id": other.ID(), "content": "keep"})

	n, err := s.DeleteRecords(ctx, store.TableMessages, map[string]any{"conversation_id": conv.ID()})
	if err != nil {
		t.Fatalf("DeleteRecords() error = %v", err)
	}
	if n != 3 {
		t.Errorf("DeleteRecords() = %d, want 3", n)
	}
	left, _ := s.CountRecords(ctx, store.TableMessages, nil)
	if left != 1 {
		t.Errorf("remaining messages = %d, want 1", left)
	}

	if _, err := s.DeleteRecords(ctx, store.TableMessages, nil); err == nil {
		t.Error("DeleteRecords() without filters should fail")
	}

	if err := s.DeleteRecord(ctx, store.TableConversations, conv.ID()); err != nil {
		t.Fatalf("DeleteRecord() error = %v", err)
	}
	if err := s.DeleteRecord(ctx, store.TableConversations, conv.ID()); !store.IsNotFound(err) {
		t.Errorf("second DeleteRecord() error = %v, want ErrNotFound", err)
	}
}

// ─── Action log ──────────────────────────────────────────────

func TestActionLog_AppendListCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, a := range []string{"ai_create_contact", "ai_delete_contact", "ai_create_contact"} {
		if err := s.AppendAction(ctx, &models.ActionRecord{ActorID: "admin-1", Action: a, TargetTable: "contacts"}); err != nil {
			t.Fatalf("AppendAction() error = %v", err)
		}
	}
	s.AppendAction(ctx, &models.ActionRecord{ActorID: "admin-2", Action: "ai_close_conversation"})

	all, _ := s.ListActions(ctx, models.ActionFilter{})
	if len(all) != 4 {
		t.Fatalf("ListActions() = %d, want 4", len(all))
	}
	if all[0].Action != "ai_close_conversation" {
		t.Errorf("ListActions() should be newest first, got %q", all[0].Action)
	}
	if all[0].ID == "" || all[0].OccurredAt.IsZero() {
		t.Error("AppendAction() should assign id and timestamp")
	}

	creates, _ := s.CountActions(ctx, models.ActionFilter{Action: "ai_create_contact"})
	if creates != 2 {
		t.Errorf("CountActions(create) = %d, want 2", creates)
	}
	byActor, _ := s.ListActions(ctx, models.ActionFilter{ActorID: "admin-1", Limit: 2})
	if len(byActor) != 2 {
		t.Errorf("ListActions(actor, limit 2) = %d, want 2", len(byActor))
	}
}

// ─── Pending actions ─────────────────────────────────────────

func TestClaimPendingAction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.PendingAction{
		Token:      "tok-1",
		ActorID:    "admin-1",
		Invocation: models.ToolInvocation{Name: "delete_contact"},
		ExpiresAt:  time.Now().Add(time.Minute),
	}
	if err := s.CreatePendingAction(ctx, p); err != nil {
		t.Fatalf("CreatePendingAction() error = %v", err)
	}

	if _, err := s.ClaimPendingAction(ctx, "tok-1", "someone-else"); !store.IsNotFound(err) {
		t.Fatalf("claim by another actor error = %v, want ErrNotFound", err)
	}

	got, err := s.ClaimPendingAction(ctx, "tok-1", "admin-1")
	if err != nil {
		t.Fatalf("ClaimPendingAction() error = %v", err)
	}
	if got.Invocation.Name != "delete_contact" {
		t.Errorf("claimed invocation = %q", got.Invocation.Name)
	}

	if _, err := s.ClaimPendingAction(ctx, "tok-1", "admin-1"); !store.IsNotFound(err) {
		t.Errorf("second claim error = %v, want ErrNotFound", err)
	}
}

func TestClaimPendingAction_Expired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreatePendingAction(ctx, &models.PendingAction{
		Token:     "old",
		ActorID:   "admin-1",
		ExpiresAt: time.Now().Add(-time.Second),
	})
	if _, err := s.ClaimPendingAction(ctx, "old", "admin-1"); !errors.Is(err, store.ErrPendingExpired) {
		t.Fatalf("claim expired error = %v, want ErrPendingExpired", err)
	}
}

// ─── Persistence ─────────────────────────────────────────────

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := store.NewMemoryStore(dir)
	rec, _ := s.InsertRecord(ctx, store.TableEmailTemplates, store.Record{"name": "welcome"})
	s.AppendAction(ctx, &models.ActionRecord{ActorID: "admin-1", Action: "ai_create_email_template"})
	s.Close()

	if _, err := os.Stat(filepath.Join(dir, "data.json")); err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}

	reloaded := store.NewMemoryStore(dir)
	defer reloaded.Close()

	got, err := reloaded.GetRecord(ctx, store.TableEmailTemplates, rec.ID())
	if err != nil {
		t.Fatalf("GetRecord() after reload error = %v", err)
	}
	if got.String("name") != "welcome" {
		t.Errorf("reloaded name = %q", got.String("name"))
	}
	n, _ := reloaded.CountActions(ctx, models.ActionFilter{})
	if n != 1 {
		t.Errorf("reloaded actions = %d, want 1", n)
	}
}
