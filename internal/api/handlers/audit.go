package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/adminpilot/control-plane/pkg/models"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// ListActions handles GET /api/v1/audit/actions.
func (h *Handlers) ListActions(w http.ResponseWriter, r *http.Request) {
	filter, err := actionFilter(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	actions, err := h.Audit.List(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Could not read the audit trail")
		return
	}
	if actions == nil {
		actions = []models.ActionRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"actions": actions, "count": len(actions)})
}

// CountActions handles GET /api/v1/audit/actions/count.
func (h *Handlers) CountActions(w http.ResponseWriter, r *http.Request) {
	filter, err := actionFilter(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	filter.Limit, filter.Offset = 0, 0

	n, err := h.Audit.Count(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "Could not read the audit trail")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"count": n})
}

func actionFilter(q url.Values) (models.ActionFilter, error) {
	f := models.ActionFilter{
		ActorID:     q.Get("actor"),
		Action:      q.Get("action"),
		TargetTable: q.Get("target_table"),
		Limit:       defaultAuditLimit,
	}

	for name, dst := range map[string]**time.Time{"since": &f.Since, "until": &f.Until} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
			}
			*dst = &t
		}
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, fmt.Errorf("limit must be a positive integer")
		}
		f.Limit = min(n, maxAuditLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("offset must be a non-negative integer")
		}
		f.Offset = n
	}
	return f, nil
}
