package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/adminpilot/control-plane/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore implements Store on top of an existing PostgreSQL database.
// Business tables are expected to exist already; Migrate only creates the
// audit trail and pending-action tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to connURL and verifies the connection.
func NewPostgresStore(ctx context.Context, connURL string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	log.Info().Int32("max_conns", cfg.MaxConns).Msg("PostgreSQL store initialized")
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS admin_action_logs (
			id           TEXT PRIMARY KEY,
			actor_id     TEXT NOT NULL,
			action       TEXT NOT NULL,
			target_table TEXT NOT NULL DEFAULT '',
			target_id    TEXT NOT NULL DEFAULT '',
			details      JSONB NOT NULL DEFAULT '{}',
			occurred_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_admin_action_logs_actor ON admin_action_logs (actor_id, occurred_at DESC);
		CREATE INDEX IF NOT EXISTS idx_admin_action_logs_action ON admin_action_logs (action, occurred_at DESC);

		CREATE TABLE IF NOT EXISTS agent_pending_actions (
			token      TEXT PRIMARY KEY,
			actor_id   TEXT NOT NULL,
			invocation JSONB NOT NULL,
			summary    TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ NOT NULL
		);
	`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// ── Record Store ────────────────────────────────────────────

// toRecord converts a row collected with pgx.RowToMap into a Record.
// pgx decodes uuid columns as [16]byte; those become canonical strings.
func toRecord(row map[string]any) Record {
	out := make(Record, len(row))
	for k, v := range row {
		if b, ok := v.([16]byte); ok {
			v = uuid.UUID(b).String()
		}
		out[k] = v
	}
	return out
}

func (s *PostgresStore) GetRecord(ctx context.Context, table, id string) (Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	sql := fmt.Sprintf("SELECT * FROM %s WHERE id = $1", ident(table))
	rows, err := s.pool.Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", table, err)
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: table, Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", table, err)
	}
	return toRecord(row), nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, table string, q Query) ([]Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if err := checkQuery(q); err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT * FROM %s", ident(table))
	where, args := whereClause(q.Filters, nil)
	if q.Search != nil && q.Search.Term != "" && len(q.Search.Columns) > 0 {
		args = append(args, "%"+q.Search.Term+"%")
		ors := make([]string, 0, len(q.Search.Columns))
		for _, c := range q.Search.Columns {
			ors = append(ors, fmt.Sprintf("%s::text ILIKE $%d", ident(c), len(args)))
		}
		where = append(where, "("+strings.Join(ors, " OR ")+")")
	}
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}

	orderBy, dir := q.OrderBy, "ASC"
	if orderBy == "" {
		orderBy, dir = "created_at", "DESC"
	} else if q.Desc {
		dir = "DESC"
	}
	fmt.Fprintf(&sb, " ORDER BY %s %s", ident(orderBy), dir)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	out := make([]Record, 0, len(maps))
	for _, m := range maps {
		out = append(out, toRecord(m))
	}
	return out, nil
}

func (s *PostgresStore) CountRecords(ctx context.Context, table string, filters map[string]any) (int64, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	if err := checkQuery(Query{Filters: filters}); err != nil {
		return 0, err
	}
	sql := fmt.Sprintf("SELECT COUNT(*) FROM %s", ident(table))
	where, args := whereClause(filters, nil)
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	var n int64
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (s *PostgresStore) InsertRecord(ctx context.Context, table string, rec Record) (Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if err := checkRecord(rec); err != nil {
		return nil, err
	}

	row := make(Record, len(rec)+2)
	for k, v := range rec {
		row[k] = v
	}
	if row.ID() == "" {
		row["id"] = uuid.NewString()
	}
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = time.Now().UTC()
	}

	cols := sortedKeys(row)
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = ident(c)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[c]
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		ident(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	out, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	return toRecord(out), nil
}

func (s *PostgresStore) UpdateRecord(ctx context.Context, table, id string, patch Record) (Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if err := checkRecord(patch); err != nil {
		return nil, err
	}

	cols := sortedKeys(patch)
	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+2)
	for _, c := range cols {
		if c == "id" {
			continue
		}
		args = append(args, patch[c])
		sets = append(sets, fmt.Sprintf("%s = $%d", ident(c), len(args)))
	}
	if _, ok := patch["updated_at"]; !ok {
		args = append(args, time.Now().UTC())
		sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))
	}
	args = append(args, id)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d RETURNING *",
		ident(table), strings.Join(sets, ", "), len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}
	out, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: table, Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}
	return toRecord(out), nil
}

func (s *PostgresStore) DeleteRecord(ctx context.Context, table, id string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", ident(table)), id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: table, Key: id}
	}
	return nil
}

func (s *PostgresStore) DeleteRecords(ctx context.Context, table string, filters map[string]any) (int64, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	if len(filters) == 0 {
		return 0, fmt.Errorf("delete from %s without filters", table)
	}
	if err := checkQuery(Query{Filters: filters}); err != nil {
		return 0, err
	}
	where, args := whereClause(filters, nil)
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s", ident(table), strings.Join(where, " AND "))
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

// ── Action Log Store ────────────────────────────────────────

func (s *PostgresStore) AppendAction(ctx context.Context, rec *models.ActionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return fmt.Errorf("marshal action details: %w", err)
	}
	if rec.Details == nil {
		details = []byte("{}")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO admin_action_logs (id, actor_id, action, target_table, target_id, details, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.ActorID, rec.Action, rec.TargetTable, rec.TargetID, details, rec.OccurredAt)
	if err != nil {
		return fmt.Errorf("append action: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActions(ctx context.Context, filter models.ActionFilter) ([]models.ActionRecord, error) {
	where, args := actionWhere(filter)
	sql := "SELECT id, actor_id, action, target_table, target_id, details, occurred_at FROM admin_action_logs"
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY occurred_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var out []models.ActionRecord
	for rows.Next() {
		var a models.ActionRecord
		var details []byte
		if err := rows.Scan(&a.ID, &a.ActorID, &a.Action, &a.TargetTable, &a.TargetID, &details, &a.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &a.Details); err != nil {
				log.Warn().Err(err).Str("id", a.ID).Msg("Unreadable action details")
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountActions(ctx context.Context, filter models.ActionFilter) (int64, error) {
	where, args := actionWhere(filter)
	sql := "SELECT COUNT(*) FROM admin_action_logs"
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	var n int64
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return n, nil
}

func actionWhere(f models.ActionFilter) ([]string, []any) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.TargetTable != "" {
		add("target_table = $%d", f.TargetTable)
	}
	if f.Since != nil {
		add("occurred_at >= $%d", *f.Since)
	}
	if f.Until != nil {
		add("occurred_at <= $%d", *f.Until)
	}
	return where, args
}

// ── Pending Action Store ────────────────────────────────────

func (s *PostgresStore) CreatePendingAction(ctx context.Context, p *models.PendingAction) error {
	inv, err := json.Marshal(p.Invocation)
	if err != nil {
		return fmt.Errorf("marshal invocation: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO agent_pending_actions (token, actor_id, invocation, summary, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.Token, p.ActorID, inv, p.Summary, p.CreatedAt, p.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create pending action: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClaimPendingAction(ctx context.Context, token, actorID string) (*models.PendingAction, error) {
	var p models.PendingAction
	var inv []byte
	err := s.pool.QueryRow(ctx, `
		DELETE FROM agent_pending_actions
		WHERE token = $1 AND actor_id = $2
		RETURNING token, actor_id, invocation, summary, created_at, expires_at`,
		token, actorID).Scan(&p.Token, &p.ActorID, &inv, &p.Summary, &p.CreatedAt, &p.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "pending_action", Key: token}
	}
	if err != nil {
		return nil, fmt.Errorf("claim pending action: %w", err)
	}
	if err := json.Unmarshal(inv, &p.Invocation); err != nil {
		return nil, fmt.Errorf("decode pending invocation: %w", err)
	}
	if p.Expired(time.Now()) {
		return nil, ErrPendingExpired
	}
	return &p, nil
}

func (s *PostgresStore) PurgeExpiredPendingActions(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM agent_pending_actions WHERE expires_at < $1", now)
	if err != nil {
		return 0, fmt.Errorf("purge pending actions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ── SQL helpers ─────────────────────────────────────────────

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func whereClause(filters map[string]any, args []any) ([]string, []any) {
	where := make([]string, 0, len(filters))
	for _, c := range sortedKeys(filters) {
		args = append(args, filters[c])
		where = append(where, fmt.Sprintf("%s = $%d", ident(c), len(args)))
	}
	return where, args
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
