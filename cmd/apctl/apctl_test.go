package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/adminpilot/control-plane/internal/auth"
	"github.com/adminpilot/control-plane/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("ADMINPILOT_JWT_SECRET", "cli-secret")

	out, err := execute(t, "token", "--subject", "ops@example.com", "--role", "admin", "--issuer", "adminpilot")
	require.NoError(t, err)
	tok := strings.TrimSpace(out)
	require.Equal(t, 2, strings.Count(tok, "."), "output should be a compact JWT")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agent/tools", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	id, err := auth.NewJWTProvider("cli-secret", "adminpilot").Authenticate(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "ops@example.com", id.Subject)
	assert.Equal(t, "admin", id.Role)
}

func TestTokenCommand_RequiresSecret(t *testing.T) {
	t.Setenv("ADMINPILOT_JWT_SECRET", "")

	_, err := execute(t, "token", "--subject", "ops@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMINPILOT_JWT_SECRET")
}

func TestToolsCommand(t *testing.T) {
	out, err := execute(t, "tools")
	require.NoError(t, err)

	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "delete_conversation")
	assert.Contains(t, out, "destructive")

	lines := strings.Count(strings.TrimSpace(out), "\n")
	assert.Equal(t, tools.NewRegistry().Len(), lines, "one row per tool after the header")
}

func TestSafetyClass(t *testing.T) {
	assert.Equal(t, "destructive", safetyClass(tools.Declaration{Destructive: true}))
	assert.Equal(t, "read-only", safetyClass(tools.Declaration{ReadOnly: true}))
	assert.Equal(t, "mutating", safetyClass(tools.Declaration{}))
}
