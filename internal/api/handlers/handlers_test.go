package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/adminpilot/control-plane/internal/api/handlers"
	"github.com/adminpilot/control-plane/internal/audit"
	"github.com/adminpilot/control-plane/internal/dedupe"
	"github.com/adminpilot/control-plane/internal/llm"
	"github.com/adminpilot/control-plane/internal/orchestrator"
	"github.com/adminpilot/control-plane/internal/store"
	"github.com/adminpilot/control-plane/internal/tools"
	"github.com/adminpilot/control-plane/pkg/contracts"
	pkgmw "github.com/adminpilot/control-plane/pkg/middleware"
	"github.com/adminpilot/control-plane/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAgent struct {
	mu    sync.Mutex
	calls []models.ChatRequest
	resp  *models.ChatResponse
	err   error
}

func (f *fakeAgent) Handle(_ context.Context, _ *contracts.Identity, req models.ChatRequest) (*models.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeAgent) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var admin = &contracts.Identity{Subject: "admin-1", Role: "admin"}

func newHandlers(t *testing.T, agent handlers.Agent, window *dedupe.Window) (*handlers.Handlers, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	return handlers.New(agent, tools.NewRegistry(), audit.NewLogger(s), window), s
}

func chat(h *handlers.Handlers, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agent/chat", bytes.NewBufferString(body))
	req = req.WithContext(pkgmw.SetIdentity(req.Context(), admin))
	w := httptest.NewRecorder()
	h.Chat(w, req)
	return w
}

func get(handler http.HandlerFunc, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req = req.WithContext(pkgmw.SetIdentity(req.Context(), admin))
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var body models.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestChat_Success(t *testing.T) {
	agent := &fakeAgent{resp: &models.ChatResponse{
		Success:         true,
		Response:        "Done.",
		ActionsExecuted: []models.ActionSummary{{Tool: "close_conversation", Success: true}},
	}}
	h, _ := newHandlers(t, agent, nil)

	w := chat(h, `{"message":"close C1","context":"chat_support"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.ChatResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "Done.", resp.Response)
	require.Len(t, resp.ActionsExecuted, 1)

	require.Equal(t, 1, agent.count())
	assert.Equal(t, "close C1", agent.calls[0].Message)
	assert.Equal(t, models.RequestContext("chat_support"), agent.calls[0].Context)
}

func TestChat_MalformedBody(t *testing.T) {
	agent := &fakeAgent{}
	h, _ := newHandlers(t, agent, nil)

	w := chat(h, `{"message":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decodeError(t, w).Code)
	assert.Zero(t, agent.count())
}

func TestChat_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unauthenticated", orchestrator.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
		{"unauthorized", orchestrator.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
		{"invalid", fmt.Errorf("%w: message is required", orchestrator.ErrInvalidRequest), http.StatusBadRequest, "invalid_request"},
		{"pending expired", orchestrator.ErrPendingExpired, http.StatusBadRequest, "invalid_request"},
		{"rate limited", fmt.Errorf("summary: %w", llm.ErrRateLimited), http.StatusTooManyRequests, "rate_limited"},
		{"quota", llm.ErrQuotaExhausted, http.StatusPaymentRequired, "quota_exhausted"},
		{"model down", fmt.Errorf("%w: connection refused", orchestrator.ErrModelUnavailable), http.StatusBadGateway, "model_unavailable"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newHandlers(t, &fakeAgent{err: tt.err}, nil)

			w := chat(h, `{"message":"hello","context":"general"}`)
			require.Equal(t, tt.status, w.Code)
			body := decodeError(t, w)
			assert.False(t, body.Success)
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Error)
			if tt.status == http.StatusInternalServerError {
				assert.NotContains(t, body.Error, "boom")
			}
		})
	}
}

func TestChat_DuplicateRejected(t *testing.T) {
	window := dedupe.NewWindow(time.Minute, 0)
	t.Cleanup(window.Close)
	agent := &fakeAgent{resp: &models.ChatResponse{Success: true, Response: "ok"}}
	h, _ := newHandlers(t, agent, window)

	body := `{"message":"delete conversation C1","context":"chat_support"}`
	require.Equal(t, http.StatusOK, chat(h, body).Code)

	w := chat(h, body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "duplicate_request", decodeError(t, w).Code)
	assert.Equal(t, 1, agent.count(), "duplicate must not reach the agent")

	// A different message is not a duplicate.
	assert.Equal(t, http.StatusOK, chat(h, `{"message":"list conversations","context":"chat_support"}`).Code)
}

func TestChat_FailedRequestCanBeRetried(t *testing.T) {
	window := dedupe.NewWindow(time.Minute, 0)
	t.Cleanup(window.Close)
	agent := &fakeAgent{err: orchestrator.ErrModelUnavailable}
	h, _ := newHandlers(t, agent, window)

	body := `{"message":"hello","context":"general"}`
	require.Equal(t, http.StatusBadGateway, chat(h, body).Code)

	agent.mu.Lock()
	agent.err, agent.resp = nil, &models.ChatResponse{Success: true, Response: "hi"}
	agent.mu.Unlock()

	assert.Equal(t, http.StatusOK, chat(h, body).Code)
	assert.Equal(t, 2, agent.count())
}

func TestTools(t *testing.T) {
	h, _ := newHandlers(t, &fakeAgent{}, nil)

	w := get(h.Tools, "/api/v1/agent/tools")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Tools []tools.Declaration `json:"tools"`
		Count int                 `json:"count"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, tools.NewRegistry().Len(), body.Count)
	assert.Len(t, body.Tools, body.Count)

	var sawDestructive bool
	for _, d := range body.Tools {
		if d.Name == "delete_conversation" {
			sawDestructive = d.Destructive
		}
	}
	assert.True(t, sawDestructive, "delete_conversation should be listed as destructive")
}

func TestAuditEndpoints(t *testing.T) {
	h, s := newHandlers(t, &fakeAgent{}, nil)
	ctx := context.Background()
	for _, a := range []string{"ai_create_contact", "ai_delete_contact", "ai_create_contact"} {
		require.NoError(t, s.AppendAction(ctx, &models.ActionRecord{ActorID: "admin-1", Action: a, TargetTable: "contacts"}))
	}
	require.NoError(t, s.AppendAction(ctx, &models.ActionRecord{ActorID: "admin-2", Action: "ai_close_conversation"}))

	w := get(h.ListActions, "/api/v1/audit/actions?actor=admin-1&limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Actions []models.ActionRecord `json:"actions"`
		Count   int                   `json:"count"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	assert.Equal(t, 2, list.Count)
	for _, a := range list.Actions {
		assert.Equal(t, "admin-1", a.ActorID)
	}

	w = get(h.CountActions, "/api/v1/audit/actions/count?action=ai_create_contact&limit=1")
	require.Equal(t, http.StatusOK, w.Code)
	var count struct {
		Count int64 `json:"count"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&count))
	assert.EqualValues(t, 2, count.Count, "count ignores pagination")

	w = get(h.ListActions, "/api/v1/audit/actions?actor=nobody")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"actions":[]`)
}

func TestAuditEndpoints_BadQuery(t *testing.T) {
	h, _ := newHandlers(t, &fakeAgent{}, nil)

	for _, target := range []string{
		"/api/v1/audit/actions?since=yesterday",
		"/api/v1/audit/actions?limit=0",
		"/api/v1/audit/actions?offset=-1",
	} {
		w := get(h.ListActions, target)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
		assert.Equal(t, "invalid_request", decodeError(t, w).Code, target)
	}

	w := get(h.CountActions, "/api/v1/audit/actions/count?until=2025-13-01")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
