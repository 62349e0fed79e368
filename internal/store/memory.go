package store

// In-memory Store implementation. Used when DATABASE_URL is unset (local
// dev, tests); an optional JSON snapshot lets data survive restarts.

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adminpilot/control-plane/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Tables  map[string]map[string]Record     `json:"tables"`
	Actions []*models.ActionRecord           `json:"actions"`
	Pending map[string]*models.PendingAction `json:"pending"` // key: token
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu      sync.RWMutex
	tables  map[string]map[string]Record     // table → id → row
	actions []*models.ActionRecord           // append-only log
	pending map[string]*models.PendingAction // key: token

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop

	now func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store.
// If dataDir is non-empty, data is persisted to data.json in that directory.
func NewMemoryStore(dataDir string) *MemoryStore {
	m := &MemoryStore{
		tables:  make(map[string]map[string]Record),
		pending: make(map[string]*models.PendingAction),
		saveCh:  make(chan struct{}, 1),
		doneCh:  make(chan struct{}),
		now:     time.Now,
	}

	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "data.json")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

// saveLoop runs in a goroutine, debouncing save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond) // debounce
			m.saveSnapshot()
		}
	}
}


// saveSnapshot persists all data to disk as JSON.
func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Tables:  m.tables,
		Actions: m.actions,
		Pending: m.pending,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}

	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

// loadSnapshot reads data from disk on startup.
func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.Tables != nil {
		m.tables = snap.Tables
	}
	if snap.Actions != nil {
		m.actions = snap.Actions
	}
	if snap.Pending != nil {
		m.pending = snap.Pending
	}

	rows := 0
	for _, t := range m.tables {
		rows += len(t)
	}
	log.Info().
		Int("tables", len(m.tables)).
		Int("rows", rows).
		Int("actions", len(m.actions)).
		Str("path", m.snapshotPath).
		Msg("Snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines and forces a final snapshot write.
// Safe to call multiple times (second call is a no-op).
func (m *MemoryStore) Close() error {
	select {
	case <-m.doneCh:
		return nil
	default:
		close(m.doneCh)
	}

	if m.snapshotPath != "" {
		log.Info().Msg("Flushing final snapshot before shutdown...")
		m.saveSnapshot()
	}

	log.Info().Msg("Memory store closed")
	return nil
}

func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

// ── Record Store ────────────────────────────────────────────

func (m *MemoryStore) GetRecord(_ context.Context, table, id string) (Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.tables[table][id]
	if !ok {
		return nil, &ErrNotFound{Entity: table, Key: id}
	}
	return cloneRecord(r), nil
}

func (m *MemoryStore) ListRecords(_ context.Context, table string, q Query) ([]Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if err := checkQuery(q); err != nil {
		return nil, err
	}

	m.mu.RLock()
	var matched []Record
	for _, r := range m.tables[table] {
		if matchFilters(r, q.Filters) && matchSearch(r, q.Search) {
			matched = append(matched, cloneRecord(r))
		}
	}
	m.mu.RUnlock()

	orderBy, desc := q.OrderBy, q.Desc
	if orderBy == "" {
		orderBy, desc = "created_at", true
	}
	sort.SliceStable(matched, func(i, j int) bool {
		c := compareValues(matched[i][orderBy], matched[j][orderBy])
		if c == 0 {
			return matched[i].ID() < matched[j].ID()
		}
		if desc {
			return c > 0
		}
		return c < 0
	})

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[q.Offset:]
		}
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	if matched == nil {
		matched = []Record{}
	}
	return matched, nil
}

func (m *MemoryStore) CountRecords(_ context.Context, table string, filters map[string]any) (int64, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, r := range m.tables[table] {
		if matchFilters(r, filters) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) InsertRecord(_ context.Context, table string, rec Record) (Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if err := checkRecord(rec); err != nil {
		return nil, err
	}

	row := cloneRecord(rec)
	if row.ID() == "" {
		row["id"] = uuid.NewString()
	}
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = m.now().UTC()
	}

	m.mu.Lock()
	t, ok := m.tables[table]
	if !ok {
		t = make(map[string]Record)
		m.tables[table] = t
	}
	t[row.ID()] = row
	m.mu.Unlock()

	m.requestSave()
	return cloneRecord(row), nil
}

func (m *MemoryStore) UpdateRecord(_ context.Context, table, id string, patch Record) (Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if err := checkRecord(patch); err != nil {
		return nil, err
	}

	m.mu.Lock()
	r, ok := m.tables[table][id]
	if !ok {
		m.mu.Unlock()
		return nil, &ErrNotFound{Entity: table, Key: id}
	}
	for k, v := range patch {
		if k == "id" {
			continue
		}
		r[k] = cloneValue(v)
	}
	r["updated_at"] = m.now().UTC()
	out := cloneRecord(r)
	m.mu.Unlock()

	m.requestSave()
	return out, nil
}

func (m *MemoryStore) DeleteRecord(_ context.Context, table, id string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	m.mu.Lock()
	if _, ok := m.tables[table][id]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: table, Key: id}
	}
	delete(m.tables[table], id)
	m.mu.Unlock()

	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteRecords(_ context.Context, table string, filters map[string]any) (int64, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	if len(filters) == 0 {
		return 0, fmt.Errorf("delete from %s without filters", table)
	}

	m.mu.Lock()
	var n int64
	for id, r := range m.tables[table] {
		if matchFilters(r, filters) {
			delete(m.tables[table], id)
			n++
		}
	}
	m.mu.Unlock()

	if n > 0 {
		m.requestSave()
	}
	return n, nil
}

// ── Action Log Store ────────────────────────────────────────

func (m *MemoryStore) AppendAction(_ context.Context, rec *models.ActionRecord) error {
	cp := *rec
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.OccurredAt.IsZero() {
		cp.OccurredAt = m.now().UTC()
	}
	rec.ID, rec.OccurredAt = cp.ID, cp.OccurredAt

	m.mu.Lock()
	m.actions = append(m.actions, &cp)
	m.mu.Unlock()

	m.requestSave()
	return nil
}

func (m *MemoryStore) ListActions(_ context.Context, filter models.ActionFilter) ([]models.ActionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.ActionRecord
	for i := len(m.actions) - 1; i >= 0; i-- { // newest first
		a := m.actions[i]
		if !matchAction(a, filter) {
			continue
		}
		if filter.Offset > 0 {
			filter.Offset--
			continue
		}
		result = append(result, *a)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) CountActions(_ context.Context, filter models.ActionFilter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, a := range m.actions {
		if matchAction(a, filter) {
			count++
		}
	}
	return count, nil
}

func matchAction(a *models.ActionRecord, f models.ActionFilter) bool {
	if f.ActorID != "" && a.ActorID != f.ActorID {
		return false
	}
	if f.Action != "" && a.Action != f.Action {
		return false
	}
	if f.TargetTable != "" && a.TargetTable != f.TargetTable {
		return false
	}
	if f.Since != nil && a.OccurredAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && a.OccurredAt.After(*f.Until) {
		return false
	}
	return true
}

// ── Pending Action Store ────────────────────────────────────

func (m *MemoryStore) CreatePendingAction(_ context.Context, p *models.PendingAction) error {
	cp := *p
	m.mu.Lock()
	m.pending[cp.Token] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ClaimPendingAction(_ context.Context, token, actorID string) (*models.PendingAction, error) {
	m.mu.Lock()
	p, ok := m.pending[token]
	if !ok || p.ActorID != actorID {
		m.mu.Unlock()
		return nil, &ErrNotFound{Entity: "pending_action", Key: token}
	}
	delete(m.pending, token)
	m.mu.Unlock()

	m.requestSave()
	if p.Expired(m.now()) {
		return nil, ErrPendingExpired
	}
	return p, nil
}

// PurgeExpiredPendingActions drops every pending action that expired before now.
func (m *MemoryStore) PurgeExpiredPendingActions(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	var purged int
	for token, p := range m.pending {
		if p.Expired(now) {
			delete(m.pending, token)
			purged++
		}
	}
	m.mu.Unlock()

	if purged > 0 {
		m.requestSave()
	}
	return purged, nil
}

// ── Value helpers ───────────────────────────────────────────

func cloneRecord(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv)
		}
		return out
	case Record:
		return cloneRecord(t)
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = cloneValue(vv)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

func matchFilters(r Record, filters map[string]any) bool {
	for k, want := range filters {
		if compareValues(r[k], want) != 0 {
			return false
		}
	}
	return true
}

func matchSearch(r Record, s *Search) bool {
	if s == nil || s.Term == "" {
		return true
	}
	term := strings.ToLower(s.Term)
	for _, c := range s.Columns {
		if strings.Contains(strings.ToLower(r.String(c)), term) {
			return true
		}
	}
	return false
}

// compareValues orders values that may have round-tripped through JSON:
// times may come back as RFC 3339 strings and integers as float64.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if ta, ok := asTime(a); ok {
		if tb, ok := asTime(b); ok {
			return ta.Compare(tb)
		}
	}
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
