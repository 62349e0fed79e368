package tools

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/adminpilot/control-plane/internal/store"
	"github.com/adminpilot/control-plane/pkg/models"
	"github.com/google/uuid"
)

const maxExportRows = 10000

var exportableTables = []string{
	store.TableContacts,
	store.TableConversations,
	store.TableEmailTemplates,
	store.TableEmailCampaigns,
	store.TableAutomationRules,
	store.TableSocialPosts,
}

type exportArgs struct {
	Table  string `json:"table" validate:"required,oneof=contacts chat_conversations email_templates email_campaigns automation_rules social_posts"`
	Status string `json:"status" validate:"max=50"`
	Limit  int    `json:"limit" validate:"min=0,max=10000"`
}

func exportTools() []Tool {
	return []Tool{
		&typedTool[exportArgs]{
			decl: Declaration{
				Name:        "export_table",
				Description: "Export rows of a table as CSV to the configured storage bucket and return the object key.",
				Parameters: Object(map[string]*Schema{
					"table":  Enum("Table to export", exportableTables...),
					"status": String("Only rows with this status"),
					"limit":  Integer("Maximum rows (default and max 10000)"),
				}, "table"),
			},
			target:   func(a exportArgs) models.Target { return models.Target{Table: a.Table} },
			describe: func(a exportArgs) string { return "export " + a.Table + " to CSV" },
			run:      exportTable,
		},
	}
}

func exportTable(ctx context.Context, env *Env, a exportArgs) (Outcome, error) {
	if !configured(env.Exporter) {
		return Outcome{}, errNotConfigured("export storage")
	}
	limit := a.Limit
	if limit <= 0 || limit > maxExportRows {
		limit = maxExportRows
	}
	q := store.Query{Limit: limit}
	if a.Status != "" {
		q.Filters = map[string]any{"status": a.Status}
	}
	rows, err := env.Store.ListRecords(ctx, a.Table, q)
	if err != nil {
		return Outcome{}, storeFailure("read "+a.Table, err)
	}

	body, err := encodeCSV(rows)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode export: %w", err)
	}
	now := env.now()
	key := fmt.Sprintf("exports/%s/%s-%s.csv", a.Table, now.Format("20060102T150405Z"), uuid.NewString()[:8])
	obj, err := env.Exporter.Upload(ctx, key, body, "text/csv")
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Data:   map[string]any{"object": obj, "rows": len(rows)},
		Target: models.Target{Table: a.Table, ID: obj.Key},
	}, nil
}

// encodeCSV writes rows with a header made of every column seen, id first.
func encodeCSV(rows []store.Record) ([]byte, error) {
	colSet := map[string]bool{}
	for _, r := range rows {
		for k := range r {
			colSet[k] = true
		}
	}
	cols := make([]string, 0, len(colSet))
	for k := range colSet {
		if k != "id" {
			cols = append(cols, k)
		}
	}
	sort.Strings(cols)
	if colSet["id"] || len(rows) == 0 {
		cols = append([]string{"id"}, cols...)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(cols); err != nil {
		return nil, err
	}
	line := make([]string, len(cols))
	for _, r := range rows {
		for i, c := range cols {
			line[i] = csvCell(r[c])
		}
		if err := w.Write(line); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func csvCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case []string:
		return strings.Join(t, ";")
	case []any, map[string]any:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
