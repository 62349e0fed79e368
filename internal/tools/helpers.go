package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/adminpilot/control-plane/internal/integrations"
	"github.com/adminpilot/control-plane/internal/store"
	"github.com/rs/zerolog/log"
)

var errNoFields = errors.New("no fields to update")

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultListLimit
	case n > maxListLimit:
		return maxListLimit
	}
	return n
}

// storeFailure logs the underlying error and returns a message safe to show
// to the model and the admin.
func storeFailure(op string, err error) error {
	log.Error().Err(err).Str("op", op).Msg("Store operation failed")
	return fmt.Errorf("could not %s", op)
}

// fetch loads one record, turning a missing row into "<noun> <id> not found".
func fetch(ctx context.Context, env *Env, table, noun, id string) (store.Record, error) {
	rec, err := env.Store.GetRecord(ctx, table, id)
	if store.IsNotFound(err) {
		return nil, fmt.Errorf("%s %s not found", noun, id)
	}
	if err != nil {
		return nil, storeFailure("load "+noun, err)
	}
	return rec, nil
}

// stringList reads a list column that may hold []string or JSON-decoded []any.
func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		parts := strings.Split(t, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}

// brief is the part of a written row reported back to the model: its id and
// the named columns that are set.
func brief(rec store.Record, cols ...string) store.Record {
	out := store.Record{"id": rec.ID()}
	for _, c := range cols {
		if v, ok := rec[c]; ok && v != nil {
			out[c] = v
		}
	}
	return out
}

// patch collects the non-nil optional fields of an update.
type patch store.Record

func (p patch) columns() []string {
	cols := make([]string, 0, len(p)+1)
	for c := range p {
		cols = append(cols, c)
	}
	return append(cols, "updated_at")
}

func (p patch) str(col string, v *string) {
	if v != nil {
		p[col] = strings.TrimSpace(*v)
	}
}

func (p patch) boolean(col string, v *bool) {
	if v != nil {
		p[col] = *v
	}
}

func (p patch) integer(col string, v *int) {
	if v != nil {
		p[col] = *v
	}
}

func (p patch) list(col string, v []string) {
	if v != nil {
		p[col] = v
	}
}

// configured reports whether an integration client is usable. Clients that
// expose Configured are asked; any other non-nil client is assumed ready.
func configured(client any) bool {
	if client == nil {
		return false
	}
	if c, ok := client.(interface{ Configured() bool }); ok {
		return c.Configured()
	}
	return true
}

func errNotConfigured(service string) error {
	return &integrations.NotConfiguredError{Service: service}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
