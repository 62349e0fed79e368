package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adminpilot/control-plane/internal/api"
	"github.com/adminpilot/control-plane/internal/api/handlers"
	"github.com/adminpilot/control-plane/internal/api/middleware"
	"github.com/adminpilot/control-plane/internal/audit"
	"github.com/adminpilot/control-plane/internal/auth"
	"github.com/adminpilot/control-plane/internal/config"
	"github.com/adminpilot/control-plane/internal/store"
	"github.com/adminpilot/control-plane/internal/tools"
	"github.com/adminpilot/control-plane/pkg/contracts"
	"github.com/adminpilot/control-plane/pkg/models"
)

type echoAgent struct {
	caller *contracts.Identity
}

func (a *echoAgent) Handle(_ context.Context, caller *contracts.Identity, req models.ChatRequest) (*models.ChatResponse, error) {
	a.caller = caller
	return &models.ChatResponse{Success: true, Response: "echo: " + req.Message, ActionsExecuted: []models.ActionSummary{}}, nil
}

func newRouter(t *testing.T, limiter *middleware.RateLimiter) (http.Handler, *echoAgent) {
	t.Helper()
	cfg := &config.Config{
		Version: "1.2.3",
		Auth: config.AuthConfig{
			APIKeys:    "admin-key,support-key=support",
			APIKeyRole: "admin",
			JWTSecret:  "test-secret",
			JWTIssuer:  "adminpilot",
			AdminRole:  "admin",
		},
	}
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })

	agent := &echoAgent{}
	h := handlers.New(agent, tools.NewRegistry(), audit.NewLogger(s), nil)
	return api.NewRouter(cfg, h, auth.NewFromConfig(cfg.Auth), limiter), agent
}

func do(t *testing.T, h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestPublicEndpoints(t *testing.T) {
	h, _ := newRouter(t, nil)

	w := do(t, h, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/version", "", nil)
	var v map[string]string
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode /version: %v", err)
	}
	if v["version"] != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", v["version"])
	}

	if w := do(t, h, http.MethodGet, "/metrics", "", nil); w.Code != http.StatusOK {
		t.Errorf("GET /metrics = %d", w.Code)
	}
}

func TestAgentRoutesRequireAdmin(t *testing.T) {
	h, agent := newRouter(t, nil)
	chat := `{"message":"hello","context":"general"}`

	if w := do(t, h, http.MethodPost, "/api/v1/agent/chat", chat, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous chat = %d, want 401", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/v1/agent/chat", chat, map[string]string{"X-API-Key": "wrong"}); w.Code != http.StatusUnauthorized {
		t.Errorf("bad key chat = %d, want 401", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/v1/agent/chat", chat, map[string]string{"X-API-Key": "support-key"}); w.Code != http.StatusForbidden {
		t.Errorf("support chat = %d, want 403", w.Code)
	}
	if agent.caller != nil {
		t.Fatal("rejected callers must not reach the agent")
	}

	w := do(t, h, http.MethodPost, "/api/v1/agent/chat", chat, map[string]string{"X-API-Key": "admin-key"})
	if w.Code != http.StatusOK {
		t.Fatalf("admin chat = %d, body %s", w.Code, w.Body.String())
	}
	var resp models.ChatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode chat: %v", err)
	}
	if resp.Response != "echo: hello" {
		t.Errorf("response = %q", resp.Response)
	}
	if agent.caller == nil || agent.caller.Role != "admin" {
		t.Errorf("agent caller = %+v", agent.caller)
	}
}

func TestAgentRoutesAcceptJWT(t *testing.T) {
	h, _ := newRouter(t, nil)

	tok, err := auth.MintToken([]byte("test-secret"), "adminpilot", "user-42", "admin", time.Hour)
	if err != nil {
		t.Fatalf("MintToken() error = %v", err)
	}
	w := do(t, h, http.MethodGet, "/api/v1/agent/tools", "", map[string]string{"Authorization": "Bearer " + tok})
	if w.Code != http.StatusOK {
		t.Fatalf("GET tools with JWT = %d", w.Code)
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode tools: %v", err)
	}
	if body.Count != tools.NewRegistry().Len() {
		t.Errorf("tools count = %d, want %d", body.Count, tools.NewRegistry().Len())
	}
}

func TestAgentRoutesRateLimited(t *testing.T) {
	h, _ := newRouter(t, middleware.NewRateLimiter(0.001, 1))
	hdr := map[string]string{"X-API-Key": "admin-key"}

	if w := do(t, h, http.MethodGet, "/api/v1/audit/actions", "", hdr); w.Code != http.StatusOK {
		t.Fatalf("first request = %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/audit/actions/count", "", hdr); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", w.Code)
	}
}
