package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/adminpilot/control-plane/internal/dedupe"
	"github.com/adminpilot/control-plane/internal/llm"
	"github.com/adminpilot/control-plane/internal/orchestrator"
	pkgmw "github.com/adminpilot/control-plane/pkg/middleware"
	"github.com/adminpilot/control-plane/pkg/models"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Chat handles POST /api/v1/agent/chat.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	caller := pkgmw.GetIdentity(r.Context())

	limit := h.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	var req models.ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	var key string
	if h.Dedupe != nil && caller != nil {
		key = fingerprint(caller.Subject, req)
		if h.Dedupe.Seen(key) {
			respondError(w, http.StatusConflict, "duplicate_request",
				"An identical request was just received. Wait for its response before retrying.")
			return
		}
	}

	resp, err := h.Agent.Handle(r.Context(), caller, req)
	if err != nil {
		if key != "" {
			h.Dedupe.Forget(key)
		}
		status, code, message := classify(err)
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Str("request_id", chimw.GetReqID(r.Context())).Msg("Agent request failed")
		}
		respondError(w, status, code, message)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Tools handles GET /api/v1/agent/tools.
func (h *Handlers) Tools(w http.ResponseWriter, r *http.Request) {
	decls := h.Registry.List()
	respondJSON(w, http.StatusOK, map[string]any{"tools": decls, "count": len(decls)})
}

func fingerprint(subject string, req models.ChatRequest) string {
	token, confirmed := "", ""
	if req.ConfirmAction != nil {
		token = req.ConfirmAction.Token
		confirmed = strconv.FormatBool(req.ConfirmAction.Confirmed)
	}
	return dedupe.Fingerprint(subject, string(req.Context), req.Message, token, confirmed)
}

// classify maps an agent error to status, code and a message safe to show.
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, orchestrator.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated", "Authentication required"
	case errors.Is(err, orchestrator.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized", "Administrator access required"
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, llm.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited", "The AI provider is rate limiting requests. Try again shortly."
	case errors.Is(err, llm.ErrQuotaExhausted):
		return http.StatusPaymentRequired, "quota_exhausted", "The AI provider quota is exhausted. Add credit or raise the limit."
	case errors.Is(err, orchestrator.ErrModelUnavailable):
		return http.StatusBadGateway, "model_unavailable", "The AI provider is unavailable right now."
	default:
		return http.StatusInternalServerError, "internal_error", "Internal error"
	}
}
