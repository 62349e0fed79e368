// Package handlers implements the HTTP surface of the admin agent.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/adminpilot/control-plane/internal/audit"
	"github.com/adminpilot/control-plane/internal/dedupe"
	"github.com/adminpilot/control-plane/internal/tools"
	"github.com/adminpilot/control-plane/pkg/contracts"
	"github.com/adminpilot/control-plane/pkg/models"
)

const defaultMaxBodyBytes = 1 << 20

// Agent runs one chat turn. Implemented by *orchestrator.Orchestrator.
type Agent interface {
	Handle(ctx context.Context, caller *contracts.Identity, req models.ChatRequest) (*models.ChatResponse, error)
}

// Handlers holds all handler dependencies.
type Handlers struct {
	Agent    Agent
	Registry *tools.Registry
	Audit    *audit.Logger

	// Dedupe rejects an identical chat request repeated inside its window.
	// Nil disables the check.
	Dedupe *dedupe.Window

	MaxBodyBytes int64
}

// New creates a new Handlers instance with all dependencies.
func New(agent Agent, registry *tools.Registry, auditLog *audit.Logger, window *dedupe.Window) *Handlers {
	return &Handlers{
		Agent:        agent,
		Registry:     registry,
		Audit:        auditLog,
		Dedupe:       window,
		MaxBodyBytes: defaultMaxBodyBytes,
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, models.ErrorResponse{Success: false, Error: message, Code: code})
}
