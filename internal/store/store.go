// Package store provides the storage interface and implementations for the AdminPilot control plane.
// Business tables are addressed generically by table name and record id; the
// audit trail and pending destructive actions have dedicated interfaces.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/adminpilot/control-plane/pkg/models"
)

// Business tables reachable through RecordStore.
const (
	TableContacts           = "contacts"
	TableConversations      = "chat_conversations"
	TableMessages           = "chat_messages"
	TableEmailTemplates     = "email_templates"
	TableEmailCampaigns     = "email_campaigns"
	TableAISettings         = "ai_settings"
	TableAutomationRules    = "automation_rules"
	TableSocialIntegrations = "social_integrations"
	TableSocialPosts        = "social_posts"
)

// Tables owned by the control plane itself.
const (
	TableActionLogs     = "admin_action_logs"
	TablePendingActions = "agent_pending_actions"
)

var businessTables = map[string]bool{
	TableContacts:           true,
	TableConversations:      true,
	TableMessages:           true,
	TableEmailTemplates:     true,
	TableEmailCampaigns:     true,
	TableAISettings:         true,
	TableAutomationRules:    true,
	TableSocialIntegrations: true,
	TableSocialPosts:        true,
}

var columnName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Store is the primary storage interface for the control plane.
// All agent code depends on this interface, making it easy to swap
// between in-memory (tests) and PostgreSQL (production) implementations.
type Store interface {
	RecordStore
	ActionLogStore
	PendingActionStore

	// Ping checks if the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate creates the tables owned by the control plane.
	Migrate(ctx context.Context) error
}

// ── Record Store ────────────────────────────────────────────

// Record is one row of a business table.
type Record map[string]any

// ID returns the record's primary key as a string.
func (r Record) ID() string {
	if v, ok := r["id"]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

// String returns the named column as a string, or "" when absent.
func (r Record) String(col string) string {
	if v, ok := r[col]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

// Search is a case-insensitive substring match over a set of columns.
type Search struct {
	Columns []string
	Term    string
}

// Query selects records from a business table.
// Filters are equality matches. An empty OrderBy sorts newest first by created_at.
type Query struct {
	Filters map[string]any
	Search  *Search
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

// RecordStore is the generic data boundary over the business tables.
type RecordStore interface {
	GetRecord(ctx context.Context, table, id string) (Record, error)
	ListRecords(ctx context.Context, table string, q Query) ([]Record, error)
	CountRecords(ctx context.Context, table string, filters map[string]any) (int64, error)

	// InsertRecord assigns id and created_at when absent and returns the stored row.
	InsertRecord(ctx context.Context, table string, rec Record) (Record, error)
	UpdateRecord(ctx context.Context, table, id string, patch Record) (Record, error)
	DeleteRecord(ctx context.Context, table, id string) error

	// DeleteRecords removes every row matching filters and returns how many went.
	// An empty filter set is rejected.
	DeleteRecords(ctx context.Context, table string, filters map[string]any) (int64, error)
}

// ── Action Log Store ────────────────────────────────────────

// ActionLogStore is the append-only audit trail. Records are never updated
// or deleted.
type ActionLogStore interface {
	AppendAction(ctx context.Context, rec *models.ActionRecord) error
	ListActions(ctx context.Context, filter models.ActionFilter) ([]models.ActionRecord, error)
	CountActions(ctx context.Context, filter models.ActionFilter) (int64, error)
}

// ── Pending Action Store ────────────────────────────────────

// PendingActionStore holds destructive invocations awaiting confirmation.
type PendingActionStore interface {
	CreatePendingAction(ctx context.Context, p *models.PendingAction) error

	// ClaimPendingAction atomically removes and returns the pending action.
	// A token owned by another actor is reported as not found.
	ClaimPendingAction(ctx context.Context, token, actorID string) (*models.PendingAction, error)

	// PurgeExpiredPendingActions deletes actions that expired before now and
	// returns how many were removed.
	PurgeExpiredPendingActions(ctx context.Context, now time.Time) (int, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// IsNotFound reports whether err is (or wraps) an ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}

// ErrPendingExpired is returned when a pending action is claimed after its TTL.
var ErrPendingExpired = errors.New("pending action expired")

func checkTable(table string) error {
	if !businessTables[table] {
		return fmt.Errorf("unknown table %q", table)
	}
	return nil
}

func checkColumns(cols ...string) error {
	for _, c := range cols {
		if !columnName.MatchString(c) {
			return fmt.Errorf("invalid column %q", c)
		}
	}
	return nil
}

func checkRecord(rec Record) error {
	for c := range rec {
		if err := checkColumns(c); err != nil {
			return err
		}
	}
	return nil
}

func checkQuery(q Query) error {
	for c := range q.Filters {
		if err := checkColumns(c); err != nil {
			return err
		}
	}
	if q.Search != nil {
		if err := checkColumns(q.Search.Columns...); err != nil {
			return err
		}
	}
	if q.OrderBy != "" {
		return checkColumns(q.OrderBy)
	}
	return nil
}
