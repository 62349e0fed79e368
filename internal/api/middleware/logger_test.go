package middleware_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adminpilot/control-plane/internal/api/middleware"
	"github.com/adminpilot/control-plane/pkg/contracts"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func requestLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	for _, raw := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var m map[string]any
		if json.Unmarshal(raw, &m) == nil && m["message"] == "request" {
			line = m
		}
	}
	if line == nil {
		t.Fatalf("no request log line in %q", buf.String())
	}
	return line
}

func TestLogger_IncludesActor(t *testing.T) {
	buf := captureLog(t)
	chain := &stubChain{identity: &contracts.Identity{Subject: "admin-7", Role: "admin"}}
	h := middleware.Logger(middleware.Authenticate(chain)(okHandler(nil)))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/agent/chat", nil))

	line := requestLine(t, buf)
	if line["actor"] != "admin-7" {
		t.Errorf("actor = %v, want admin-7", line["actor"])
	}
	if line["status"] != float64(http.StatusOK) || line["level"] != "info" {
		t.Errorf("status/level = %v/%v", line["status"], line["level"])
	}
}

func TestLogger_AnonymousRequest(t *testing.T) {
	buf := captureLog(t)
	h := middleware.Logger(middleware.Authenticate(&stubChain{})(okHandler(nil)))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/tools", nil))

	line := requestLine(t, buf)
	if _, ok := line["actor"]; ok {
		t.Errorf("anonymous request logged actor %v", line["actor"])
	}
	if line["status"] != float64(http.StatusUnauthorized) || line["level"] != "warn" {
		t.Errorf("status/level = %v/%v", line["status"], line["level"])
	}
}
