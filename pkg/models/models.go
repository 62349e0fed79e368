// Package models defines the shared data types for the AdminPilot control plane.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ── Conversation ─────────────────────────────────────────────

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ConversationTurn is one entry of the rolling message list sent to the model.
type ConversationTurn struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"toolCallId,omitempty"`
}

// RequestContext tells the agent which part of the product the admin is working in.
type RequestContext string

const (
	ContextEmailCampaign RequestContext = "email_campaign"
	ContextChatSupport   RequestContext = "chat_support"
	ContextGeneral       RequestContext = "general"
)

// Valid reports whether c is one of the known request contexts.
func (c RequestContext) Valid() bool {
	switch c {
	case ContextEmailCampaign, ContextChatSupport, ContextGeneral:
		return true
	}
	return false
}

// ChatRequest is the inbound body of POST /api/v1/agent/chat.
type ChatRequest struct {
	Message             string             `json:"message"`
	Context             RequestContext     `json:"context"`
	ConversationHistory []ConversationTurn `json:"conversationHistory,omitempty"`
	ConfirmAction       *ConfirmAction     `json:"confirmAction,omitempty"`
}

// ConfirmAction answers a pending destructive action returned by a previous turn.
type ConfirmAction struct {
	Token     string `json:"token"`
	Confirmed bool   `json:"confirmed"`
}

// ChatResponse is the success envelope returned to the client.
type ChatResponse struct {
	Success         bool                `json:"success"`
	Response        string              `json:"response"`
	ActionsExecuted []ActionSummary     `json:"actionsExecuted"`
	PendingActions  []PendingActionView `json:"pendingActions,omitempty"`
}

// ErrorResponse is the failure envelope returned to the client.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

// ── Tools ────────────────────────────────────────────────────

// ToolInvocation is a tool call produced by the model. Arguments are untrusted.
type ToolInvocation struct {
	CallID    string          `json:"callId"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the uniform envelope returned by every tool execution.
// An empty Error is encoded as null.
type ToolResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Error   string `json:"error"`
}

// MarshalJSON always emits the error key, as null when there is no error.
func (r ToolResult) MarshalJSON() ([]byte, error) {
	var errMsg *string
	if r.Error != "" {
		errMsg = &r.Error
	}
	return json.Marshal(struct {
		Success bool    `json:"success"`
		Data    any     `json:"data"`
		Error   *string `json:"error"`
	}{r.Success, r.Data, errMsg})
}

// Succeeded wraps data in a successful ToolResult.
func Succeeded(data any) ToolResult {
	return ToolResult{Success: true, Data: data}
}

// Failed builds a failed ToolResult with a formatted message.
func Failed(format string, args ...any) ToolResult {
	return ToolResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Target identifies the record a tool acted on.
type Target struct {
	Table string `json:"table,omitempty"`
	ID    string `json:"id,omitempty"`
}

// ── Audit ────────────────────────────────────────────────────

// ActionRecord is an append-only audit entry for one executed side-effecting tool.
type ActionRecord struct {
	ID          string         `json:"id"`
	ActorID     string         `json:"actor_id"`
	Action      string         `json:"action"`
	TargetTable string         `json:"target_table,omitempty"`
	TargetID    string         `json:"target_id,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// ActionFilter provides query options for listing action records.
type ActionFilter struct {
	ActorID     string
	Action      string
	TargetTable string
	Since       *time.Time
	Until       *time.Time
	Limit       int
	Offset      int
}

// ActionSummary is the ActionRecord-like entry returned to the client for each
// tool the model requested in a turn.
type ActionSummary struct {
	CallID      string `json:"callId"`
	Tool        string `json:"tool"`
	Action      string `json:"action"`
	TargetTable string `json:"targetTable,omitempty"`
	TargetID    string `json:"targetId,omitempty"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	Destructive bool   `json:"destructive,omitempty"`
	Pending     bool   `json:"pending,omitempty"`
	Summary     string `json:"summary,omitempty"`
}

// ── Pending destructive actions ──────────────────────────────

// PendingAction is a destructive invocation held until the caller confirms it.
type PendingAction struct {
	Token      string         `json:"token"`
	ActorID    string         `json:"actor_id"`
	Invocation ToolInvocation `json:"invocation"`
	Summary    string         `json:"summary"`
	CreatedAt  time.Time      `json:"created_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
}

// Expired reports whether the pending action can no longer be confirmed.
func (p *PendingAction) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// View returns the client-facing projection of the pending action.
func (p *PendingAction) View() PendingActionView {
	return PendingActionView{
		Token:     p.Token,
		Tool:      p.Invocation.Name,
		Summary:   p.Summary,
		ExpiresAt: p.ExpiresAt,
	}
}

// PendingActionView is what the client sees for a pending action.
type PendingActionView struct {
	Token     string    `json:"token"`
	Tool      string    `json:"tool"`
	Summary   string    `json:"summary"`
	ExpiresAt time.Time `json:"expiresAt"`
}
