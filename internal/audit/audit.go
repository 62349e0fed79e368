// Package audit writes the append-only trail of side effects the admin agent
// performed. Recording never fails the caller: a lost record is logged and
// counted, and the tool result the admin sees is unchanged.
package audit

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/adminpilot/control-plane/internal/store"
	"github.com/adminpilot/control-plane/internal/telemetry"
	"github.com/adminpilot/control-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

// ActionPrefix namespaces agent-originated actions in the trail.
const ActionPrefix = "ai_"

// writeTimeout bounds a single append once the request context is detached.
const writeTimeout = 5 * time.Second

// ActionName returns the trail action for a tool, e.g. ai_delete_contact.
func ActionName(tool string) string {
	return ActionPrefix + tool
}

// Logger appends ActionRecords to the store.
type Logger struct {
	store store.ActionLogStore
}

func NewLogger(s store.ActionLogStore) *Logger {
	return &Logger{store: s}
}

// Record appends one action. The write survives client disconnects and any
// failure, including a panicking store, is swallowed after logging.
func (l *Logger) Record(ctx context.Context, actorID, action, targetTable, targetID string, details map[string]any) {
	rec := &models.ActionRecord{
		ActorID:     actorID,
		Action:      action,
		TargetTable: targetTable,
		TargetID:    targetID,
		Details:     details,
	}
	if err := l.append(ctx, rec); err != nil {
		telemetry.RecordAuditWriteFailure()
		log.Error().Err(err).
			Str("actor", actorID).
			Str("action", action).
			Str("target_table", targetTable).
			Str("target_id", targetID).
			Msg("Audit record lost")
		return
	}
	log.Debug().
		Str("id", rec.ID).
		Str("actor", actorID).
		Str("action", action).
		Msg("Audit record written")
}

func (l *Logger) append(ctx context.Context, rec *models.ActionRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("Audit store panicked")
			err = fmt.Errorf("audit store panic: %v", r)
		}
	}()
	if l.store == nil {
		return fmt.Errorf("no action log store configured")
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	return l.store.AppendAction(ctx, rec)
}

// List returns recorded actions, newest first.
func (l *Logger) List(ctx context.Context, filter models.ActionFilter) ([]models.ActionRecord, error) {
	return l.store.ListActions(ctx, filter)
}

// Count returns how many recorded actions match filter.
func (l *Logger) Count(ctx context.Context, filter models.ActionFilter) (int64, error) {
	return l.store.CountActions(ctx, filter)
}
