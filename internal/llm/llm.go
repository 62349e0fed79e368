// Package llm is the model-provider boundary. The orchestrator only sees
// Provider: messages plus tool specs in, content and/or tool calls out.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrRateLimited means the provider asked us to slow down.
	ErrRateLimited = errors.New("model provider rate limit reached")

	// ErrQuotaExhausted means the account has no remaining quota or credit.
	ErrQuotaExhausted = errors.New("model provider quota exhausted")

	// ErrNotConfigured means no provider credentials were supplied.
	ErrNotConfigured = errors.New("model provider not configured")
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role       string
	Content    string
	ToolCallID string
	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall
}

// ToolCall is a function invocation emitted by the model. Arguments is the
// raw JSON string exactly as the model produced it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolSpec advertises one callable function. Parameters must marshal to a
// JSON Schema object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  any
}

// Request is one completion call. A request without Tools asks for plain text.
type Request struct {
	Messages []Message
	Tools    []ToolSpec
}

// Usage is the provider's token accounting for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Response is the model's reply.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Provider is any chat-completion backend with function calling.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
