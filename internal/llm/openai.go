package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/adminpilot/control-plane/internal/config"
	"github.com/adminpilot/control-plane/internal/telemetry"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout bounds one model call when none is configured.
const DefaultTimeout = 60 * time.Second

// OpenAIClient implements Provider for any OpenAI-compatible chat
// completions endpoint.
type OpenAIClient struct {
	api         *openai.Client
	model       string
	temperature float32
	timeout     time.Duration
	configured  bool
}

// NewOpenAIClient builds a client from the LLM configuration. BaseURL points
// the client at a compatible gateway instead of api.openai.com.
func NewOpenAIClient(cfg config.LLMConfig) *OpenAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	oc.HTTPClient = &http.Client{Timeout: timeout + 5*time.Second}

	return &OpenAIClient{
		api:         openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     timeout,
		configured:  cfg.APIKey != "",
	}
}

// Configured reports whether an API key was supplied.
func (c *OpenAIClient) Configured() bool { return c.configured }

// Complete sends one chat completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if !c.configured {
		return nil, ErrNotConfigured
	}

	ctx, span := telemetry.Tracer().Start(ctx, "llm.complete",
		trace.WithAttributes(
			attribute.String("llm.model", c.model),
			attribute.Int("llm.messages", len(req.Messages)),
			attribute.Int("llm.tools", len(req.Tools)),
		),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	creq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: c.temperature,
	}
	if len(req.Tools) > 0 {
		creq.Tools = toOpenAITools(req.Tools)
		creq.ToolChoice = "auto"
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, creq)
	elapsed := time.Since(start)
	if err != nil {
		errType, classified := classify(err)
		telemetry.RecordLLMRequest(elapsed, 0, 0, errType)
		span.SetStatus(codes.Error, errType)
		log.Error().Err(err).
			Str("model", c.model).
			Str("error_type", errType).
			Dur("duration", elapsed).
			Msg("LLM request failed")
		return nil, classified
	}
	if len(resp.Choices) == 0 {
		telemetry.RecordLLMRequest(elapsed, 0, 0, "empty_response")
		return nil, fmt.Errorf("model returned no choices")
	}

	telemetry.RecordLLMRequest(elapsed, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, "")

	msg := resp.Choices[0].Message
	out := &Response{
		Content: msg.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	log.Debug().
		Str("model", c.model).
		Int("tool_calls", len(out.ToolCalls)).
		Int("content_length", len(out.Content)).
		Dur("duration", elapsed).
		Msg("LLM response received")

	return out, nil
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, om)
	}
	return out
}

func toOpenAITools(specs []ToolSpec) []openai.Tool {
	out := make([]openai.Tool, len(specs))
	for i, s := range specs {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
			},
		}
	}
	return out
}

// classify maps provider failures onto the error classes the orchestrator
// reports and a metrics label.
func classify(err error) (string, error) {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout", fmt.Errorf("model request timed out: %w", err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := fmt.Sprint(apiErr.Code)
		switch {
		case apiErr.HTTPStatusCode == http.StatusPaymentRequired,
			code == "insufficient_quota", apiErr.Type == "insufficient_quota":
			return "quota", fmt.Errorf("%w: %s", ErrQuotaExhausted, apiErr.Message)
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return "rate_limit", fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
		case apiErr.HTTPStatusCode == http.StatusUnauthorized, apiErr.HTTPStatusCode == http.StatusForbidden:
			return "auth", fmt.Errorf("model provider rejected credentials: %w", err)
		case apiErr.HTTPStatusCode >= 500:
			return "server", fmt.Errorf("model provider error: %w", err)
		}
		return "unknown", fmt.Errorf("model request failed: %w", err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		switch {
		case reqErr.HTTPStatusCode == http.StatusPaymentRequired:
			return "quota", fmt.Errorf("%w: HTTP %d", ErrQuotaExhausted, reqErr.HTTPStatusCode)
		case reqErr.HTTPStatusCode == http.StatusTooManyRequests:
			return "rate_limit", fmt.Errorf("%w: HTTP %d", ErrRateLimited, reqErr.HTTPStatusCode)
		case reqErr.HTTPStatusCode >= 500:
			return "server", fmt.Errorf("model provider error: %w", err)
		}
	}
	return "unknown", fmt.Errorf("model request failed: %w", err)
}
