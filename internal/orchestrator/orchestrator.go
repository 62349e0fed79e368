// Package orchestrator runs one admin chat turn.
//
//	authenticate → gather context → model picks tools → run them
//	→ model summarises the results → respond
//
// Destructive calls are either held for confirmation or run immediately,
// depending on the configured Policy.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adminpilot/control-plane/internal/audit"
	"github.com/adminpilot/control-plane/internal/executor"
	"github.com/adminpilot/control-plane/internal/gatherer"
	"github.com/adminpilot/control-plane/internal/guardrails"
	"github.com/adminpilot/control-plane/internal/llm"
	"github.com/adminpilot/control-plane/internal/store"
	"github.com/adminpilot/control-plane/internal/telemetry"
	"github.com/adminpilot/control-plane/pkg/contracts"
	"github.com/adminpilot/control-plane/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrUnauthorized    = errors.New("administrator access required")
	ErrInvalidRequest  = errors.New("invalid request")

	// ErrModelUnavailable covers provider failures other than rate limits and quota.
	ErrModelUnavailable = errors.New("model provider unavailable")

	ErrPendingNotFound = fmt.Errorf("%w: no pending action for this token", ErrInvalidRequest)
	ErrPendingExpired  = fmt.Errorf("%w: the pending action has expired", ErrInvalidRequest)
)

const (
	DefaultHistoryWindow    = 10
	DefaultMaxParallelTools = 4
	DefaultPendingTTL       = 10 * time.Minute
	DefaultAdminRole        = "admin"

	emptyReply = "I could not produce an answer. Please rephrase your request."
)

// ContextGatherer builds the live business snapshot for a request.
type ContextGatherer interface {
	Gather(ctx context.Context, rc models.RequestContext) *gatherer.Snapshot
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Executor *executor.Executor
	Gatherer ContextGatherer
	Model    llm.Provider
	Pending  store.PendingActionStore
	Policy   *Policy
	Prompts  *Prompts
}

// Options tune a turn. Zero values select the defaults.
type Options struct {
	AdminRole        string
	HistoryWindow    int
	MaxParallelTools int
	MaxMessageLength int
	PendingTTL       time.Duration
}

// Orchestrator is safe for concurrent use; it keeps no per-request state.
type Orchestrator struct {
	exec     *executor.Executor
	gatherer ContextGatherer
	model    llm.Provider
	pending  store.PendingActionStore
	policy   *Policy
	prompts  *Prompts
	opts     Options
	specs    []llm.ToolSpec
	now      func() time.Time
}

// New creates an orchestrator. Prompts default to the embedded set and the
// policy defaults to confirm mode.
func New(d Deps, opts Options) (*Orchestrator, error) {
	if d.Executor == nil || d.Gatherer == nil || d.Model == nil || d.Pending == nil {
		return nil, errors.New("orchestrator: executor, gatherer, model and pending store are required")
	}
	if d.Prompts == nil {
		p, err := LoadPrompts("")
		if err != nil {
			return nil, err
		}
		d.Prompts = p
	}
	if d.Policy == nil {
		d.Policy = NewPolicy(d.Executor.Registry(), "")
	}
	if opts.AdminRole == "" {
		opts.AdminRole = DefaultAdminRole
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = DefaultHistoryWindow
	}
	if opts.MaxParallelTools <= 0 {
		opts.MaxParallelTools = DefaultMaxParallelTools
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = DefaultPendingTTL
	}

	decls := d.Executor.Registry().List()
	specs := make([]llm.ToolSpec, 0, len(decls))
	for _, decl := range decls {
		specs = append(specs, llm.ToolSpec{
			Name:        decl.Name,
			Description: decl.Description,
			Parameters:  decl.Parameters,
		})
	}

	return &Orchestrator{
		exec:     d.Executor,
		gatherer: d.Gatherer,
		model:    d.Model,
		pending:  d.Pending,
		policy:   d.Policy,
		prompts:  d.Prompts,
		opts:     opts,
		specs:    specs,
		now:      time.Now,
	}, nil
}

// turnOutcome is the result of one tool call within a turn.
type turnOutcome struct {
	call    llm.ToolCall
	result  models.ToolResult
	summary models.ActionSummary
	pending *models.PendingAction
}

// Handle runs one chat turn for caller. The caller is checked before any
// context is gathered, the model is called or a tool runs.
func (o *Orchestrator) Handle(ctx context.Context, caller *contracts.Identity, req models.ChatRequest) (*models.ChatResponse, error) {
	if caller == nil {
		return nil, ErrUnauthenticated
	}
	if !caller.HasRole(o.opts.AdminRole) {
		log.Warn().Str("actor", caller.Subject).Str("role", caller.Role).Msg("Agent request denied: not an administrator")
		return nil, ErrUnauthorized
	}

	ctx, span := telemetry.Tracer().Start(ctx, "agent.turn",
		trace.WithAttributes(
			attribute.String("actor.id", caller.Subject),
			attribute.String("agent.context", string(req.Context)),
			attribute.Bool("agent.confirm", req.ConfirmAction != nil),
		),
	)
	defer span.End()

	var (
		resp *models.ChatResponse
		err  error
	)
	if req.ConfirmAction != nil {
		resp, err = o.confirm(ctx, caller, req)
	} else {
		resp, err = o.turn(ctx, caller, req)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

func (o *Orchestrator) turn(ctx context.Context, caller *contracts.Identity, req models.ChatRequest) (*models.ChatResponse, error) {
	start := time.Now()
	rc, err := o.checkRequest(caller, req)
	if err != nil {
		return nil, err
	}

	snap := o.gatherer.Gather(ctx, rc)
	system := o.prompts.SystemPrompt(rc, o.policy.Mode(), snap.Render(), o.now().UTC().Format(time.RFC3339))
	msgs := o.conversation(system, req)

	first, err := o.model.Complete(ctx, llm.Request{Messages: msgs, Tools: o.specs})
	if err != nil {
		return nil, modelError(err)
	}
	if len(first.ToolCalls) == 0 {
		text := strings.TrimSpace(first.Content)
		if text == "" {
			text = emptyReply
		}
		log.Info().Str("actor", caller.Subject).Str("context", string(rc)).Dur("duration", time.Since(start)).
			Msg("Agent turn completed without tools")
		return &models.ChatResponse{Success: true, Response: text, ActionsExecuted: []models.ActionSummary{}}, nil
	}

	outcomes := o.runTools(ctx, caller, withCallIDs(first.ToolCalls))

	msgs[0].Content = system + "\n\n" + strings.TrimSpace(o.prompts.Summary)
	msgs = append(msgs, resultMessages(first.Content, outcomes)...)
	text, err := o.summarise(ctx, msgs, outcomes)
	if err != nil {
		return nil, err
	}

	resp := respond(text, outcomes)
	log.Info().
		Str("actor", caller.Subject).
		Str("context", string(rc)).
		Int("tools", len(outcomes)).
		Int("pending", len(resp.PendingActions)).
		Dur("duration", time.Since(start)).
		Msg("Agent turn completed")
	return resp, nil
}

func (o *Orchestrator) checkRequest(caller *contracts.Identity, req models.ChatRequest) (models.RequestContext, error) {
	if err := guardrails.CheckMessage(req.Message, o.opts.MaxMessageLength); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	rc := req.Context
	if rc == "" {
		rc = models.ContextGeneral
	}
	if !rc.Valid() {
		return "", fmt.Errorf("%w: unknown context %q", ErrInvalidRequest, req.Context)
	}
	if guardrails.LooksLikeInjection(req.Message) {
		log.Warn().Str("actor", caller.Subject).Msg("Agent message looks like a prompt injection attempt")
	}
	return rc, nil
}

// conversation builds the first-round messages. Only user and assistant
// turns from the client history are replayed, newest last.
func (o *Orchestrator) conversation(system string, req models.ChatRequest) []llm.Message {
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: system}}
	for _, t := range windowHistory(req.ConversationHistory, o.opts.HistoryWindow) {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Content})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: req.Message})
}

func windowHistory(turns []models.ConversationTurn, n int) []models.ConversationTurn {
	kept := make([]models.ConversationTurn, 0, len(turns))
	for _, t := range turns {
		if t.Role != models.RoleUser && t.Role != models.RoleAssistant {
			continue
		}
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		kept = append(kept, t)
	}
	if n > 0 && len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return kept
}

// withCallIDs fills in ids the provider left empty so every tool message
// can be matched to its call.
func withCallIDs(calls []llm.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
		}
		out[i] = c
	}
	return out
}

// ── Tool execution ──────────────────────────────────────────

// runTools runs every call concurrently. A failing call never stops its
// siblings; outcomes keep the order of calls.
func (o *Orchestrator) runTools(ctx context.Context, caller *contracts.Identity, calls []llm.ToolCall) []turnOutcome {
	outcomes := make([]turnOutcome, len(calls))
	var g errgroup.Group
	g.SetLimit(o.opts.MaxParallelTools)
	for i, call := range calls {
		g.Go(func() error {
			outcomes[i] = o.runTool(ctx, caller, call)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (o *Orchestrator) runTool(ctx context.Context, caller *contracts.Identity, call llm.ToolCall) turnOutcome {
	args := strings.TrimSpace(call.Arguments)
	if args == "" {
		args = "{}"
	}
	inv := models.ToolInvocation{CallID: call.ID, Name: call.Name, Arguments: json.RawMessage(args)}

	p, err := o.exec.Prepare(inv)
	if err != nil {
		return rejected(call, err, o.policy.IsDestructive(call.Name))
	}
	if o.policy.RequiresConfirmation(p.Declaration) {
		return o.hold(ctx, caller, call, p)
	}
	r := o.exec.Run(ctx, p, caller)
	return turnOutcome{call: call, result: r.Result, summary: r.Summary()}
}

func rejected(call llm.ToolCall, err error, destructive bool) turnOutcome {
	res := models.Failed("%s", err.Error())
	return turnOutcome{
		call:   call,
		result: res,
		summary: models.ActionSummary{
			CallID:      call.ID,
			Tool:        call.Name,
			Action:      audit.ActionName(call.Name),
			Success:     false,
			Error:       res.Error,
			Destructive: destructive,
		},
	}
}

// hold stores a destructive call as a pending action instead of running it.
func (o *Orchestrator) hold(ctx context.Context, caller *contracts.Identity, call llm.ToolCall, p *executor.Prepared) turnOutcome {
	now := o.now().UTC()
	pa := &models.PendingAction{
		Token:      uuid.NewString(),
		ActorID:    caller.Subject,
		Invocation: p.Invocation,
		Summary:    p.Call.Describe(),
		CreatedAt:  now,
		ExpiresAt:  now.Add(o.opts.PendingTTL),
	}
	target := p.Call.Target()
	summary := models.ActionSummary{
		CallID:      call.ID,
		Tool:        call.Name,
		Action:      audit.ActionName(call.Name),
		TargetTable: target.Table,
		TargetID:    target.ID,
		Destructive: true,
		Pending:     true,
		Summary:     "awaiting confirmation: " + pa.Summary,
	}

	if err := o.pending.CreatePendingAction(context.WithoutCancel(ctx), pa); err != nil {
		log.Error().Err(err).Str("tool", call.Name).Str("call_id", call.ID).Msg("Failed to store pending action")
		telemetry.RecordPendingAction("store_failed")
		summary.Pending = false
		summary.Error = "could not hold the action for confirmation"
		summary.Summary = pa.Summary
		return turnOutcome{call: call, result: models.Failed("%s", summary.Error), summary: summary}
	}

	telemetry.RecordPendingAction("created")
	log.Info().
		Str("tool", call.Name).
		Str("call_id", call.ID).
		Str("actor", caller.Subject).
		Time("expires_at", pa.ExpiresAt).
		Msg("Destructive action held for confirmation")

	return turnOutcome{
		call: call,
		result: models.Succeeded(map[string]any{
			"status":  "pending_confirmation",
			"token":   pa.Token,
			"summary": pa.Summary,
			"message": "Not executed. The administrator must confirm this action before it runs.",
		}),
		summary: summary,
		pending: pa,
	}
}

// ── Confirmation ────────────────────────────────────────────

func (o *Orchestrator) confirm(ctx context.Context, caller *contracts.Identity, req models.ChatRequest) (*models.ChatResponse, error) {
	ca := req.ConfirmAction
	if strings.TrimSpace(ca.Token) == "" {
		return nil, fmt.Errorf("%w: confirmAction.token is required", ErrInvalidRequest)
	}
	rc := req.Context
	if !rc.Valid() {
		rc = models.ContextGeneral
	}

	pa, err := o.pending.ClaimPendingAction(ctx, ca.Token, caller.Subject)
	switch {
	case store.IsNotFound(err):
		telemetry.RecordPendingAction("not_found")
		return nil, ErrPendingNotFound
	case errors.Is(err, store.ErrPendingExpired):
		telemetry.RecordPendingAction("expired")
		return nil, ErrPendingExpired
	case err != nil:
		return nil, fmt.Errorf("claim pending action: %w", err)
	}

	if !ca.Confirmed {
		telemetry.RecordPendingAction("cancelled")
		log.Info().Str("actor", caller.Subject).Str("tool", pa.Invocation.Name).Msg("Pending action cancelled")
		return &models.ChatResponse{
			Success:         true,
			Response:        fmt.Sprintf("Cancelled: %s. Nothing was changed.", pa.Summary),
			ActionsExecuted: []models.ActionSummary{},
		}, nil
	}

	telemetry.RecordPendingAction("confirmed")
	inv := pa.Invocation
	call := llm.ToolCall{ID: inv.CallID, Name: inv.Name, Arguments: string(inv.Arguments)}
	if call.ID == "" {
		call = withCallIDs([]llm.ToolCall{call})[0]
		inv.CallID = call.ID
	}

	var out turnOutcome
	if p, err := o.exec.Prepare(inv); err != nil {
		out = rejected(call, err, true)
	} else {
		r := o.exec.Run(ctx, p, caller)
		out = turnOutcome{call: call, result: r.Result, summary: r.Summary()}
	}
	outcomes := []turnOutcome{out}

	system := o.prompts.SystemPrompt(rc, o.policy.Mode(), "", o.now().UTC().Format(time.RFC3339))
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: system + "\n\n" + strings.TrimSpace(o.prompts.Summary)},
		{Role: llm.RoleUser, Content: o.prompts.ConfirmationPrompt(pa.Summary)},
	}
	msgs = append(msgs, resultMessages("", outcomes)...)
	text, err := o.summarise(ctx, msgs, outcomes)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("actor", caller.Subject).
		Str("tool", inv.Name).
		Bool("success", out.result.Success).
		Msg("Pending action executed")
	return respond(text, outcomes), nil
}

// ── Summary ─────────────────────────────────────────────────

// resultMessages replays the assistant's tool calls followed by one tool
// message per result.
func resultMessages(content string, outcomes []turnOutcome) []llm.Message {
	calls := make([]llm.ToolCall, len(outcomes))
	for i, oc := range outcomes {
		calls[i] = oc.call
	}
	msgs := []llm.Message{{Role: llm.RoleAssistant, Content: content, ToolCalls: calls}}
	for _, oc := range outcomes {
		raw, err := json.Marshal(oc.result)
		if err != nil {
			raw = []byte(`{"success":false,"error":"result could not be encoded"}`)
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleTool, ToolCallID: oc.call.ID, Content: string(raw)})
	}
	return msgs
}

// summarise asks the model, without tools, to describe the results. Rate
// limit and quota errors end the request; anything else falls back to a
// summary built from the outcomes.
func (o *Orchestrator) summarise(ctx context.Context, msgs []llm.Message, outcomes []turnOutcome) (string, error) {
	resp, err := o.model.Complete(ctx, llm.Request{Messages: msgs})
	if err != nil {
		if errors.Is(err, llm.ErrRateLimited) || errors.Is(err, llm.ErrQuotaExhausted) {
			return "", err
		}
		log.Warn().Err(err).Msg("Summary request failed, using fallback summary")
		return fallbackSummary(outcomes), nil
	}
	if text := strings.TrimSpace(resp.Content); text != "" {
		return text, nil
	}
	return fallbackSummary(outcomes), nil
}

func fallbackSummary(outcomes []turnOutcome) string {
	var b strings.Builder
	b.WriteString("Here is what happened:")
	for _, oc := range outcomes {
		what := oc.summary.Summary
		if oc.pending != nil {
			what = oc.pending.Summary
		}
		if what == "" {
			what = strings.ReplaceAll(oc.call.Name, "_", " ")
		}
		switch {
		case oc.pending != nil:
			fmt.Fprintf(&b, "\n- Waiting for your confirmation: %s.", what)
		case oc.result.Success:
			fmt.Fprintf(&b, "\n- Done: %s.", what)
		default:
			fmt.Fprintf(&b, "\n- Failed: %s (%s).", what, oc.result.Error)
		}
	}
	return b.String()
}

func respond(text string, outcomes []turnOutcome) *models.ChatResponse {
	resp := &models.ChatResponse{
		Success:         true,
		Response:        text,
		ActionsExecuted: make([]models.ActionSummary, 0, len(outcomes)),
	}
	for _, oc := range outcomes {
		resp.ActionsExecuted = append(resp.ActionsExecuted, oc.summary)
		if oc.pending != nil {
			resp.PendingActions = append(resp.PendingActions, oc.pending.View())
		}
	}
	return resp
}

func modelError(err error) error {
	if errors.Is(err, llm.ErrRateLimited) || errors.Is(err, llm.ErrQuotaExhausted) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
}
