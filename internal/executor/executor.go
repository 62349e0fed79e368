// Package executor dispatches model tool calls to the tool catalog.
//
// Every invocation goes through the same pipeline:
//
//	lookup (fail closed) → bind and validate → run the handler on a context
//	detached from the client, bounded by the tool timeout → audit the side
//	effect → redact secrets from the result.
//
// An invocation that is rejected before its handler runs has no side effect
// and is never audited.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/adminpilot/control-plane/internal/audit"
	"github.com/adminpilot/control-plane/internal/guardrails"
	"github.com/adminpilot/control-plane/internal/telemetry"
	"github.com/adminpilot/control-plane/internal/tools"
	"github.com/adminpilot/control-plane/pkg/contracts"
	"github.com/adminpilot/control-plane/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout bounds a tool handler when none is configured.
const DefaultTimeout = 20 * time.Second

var (
	// ErrToolNotFound is returned for names outside the registry.
	ErrToolNotFound = errors.New("tool not found")

	errInternal = errors.New("internal error")
)

// Recorder persists one audit entry per executed side effect.
type Recorder interface {
	Record(ctx context.Context, actorID, action, targetTable, targetID string, details map[string]any)
}

// Prepared is an invocation whose tool exists and whose arguments passed
// validation. Nothing has run yet.
type Prepared struct {
	Invocation  models.ToolInvocation
	Declaration tools.Declaration
	Call        tools.Call
}

// Report is the full account of one dispatched invocation.
type Report struct {
	Invocation  models.ToolInvocation
	Result      models.ToolResult
	Target      models.Target
	Destructive bool
	Description string
	Duration    time.Duration
}

// Summary converts the report into the entry returned to the client.
func (r *Report) Summary() models.ActionSummary {
	return models.ActionSummary{
		CallID:      r.Invocation.CallID,
		Tool:        r.Invocation.Name,
		Action:      audit.ActionName(r.Invocation.Name),
		TargetTable: r.Target.Table,
		TargetID:    r.Target.ID,
		Success:     r.Result.Success,
		Error:       r.Result.Error,
		Destructive: r.Destructive,
		Summary:     r.Description,
	}
}

// Executor runs validated tool calls against the business backend.
type Executor struct {
	registry *tools.Registry
	env      *tools.Env
	audit    Recorder
	timeout  time.Duration
}

// New creates an executor. A zero timeout selects DefaultTimeout.
func New(registry *tools.Registry, env *tools.Env, rec Recorder, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{
		registry: registry,
		env:      env,
		audit:    rec,
		timeout:  timeout,
	}
}

// Registry exposes the catalog the executor dispatches to.
func (e *Executor) Registry() *tools.Registry {
	return e.registry
}

// Execute dispatches one invocation on behalf of actor and returns its result.
func (e *Executor) Execute(ctx context.Context, inv models.ToolInvocation, actor *contracts.Identity) models.ToolResult {
	return e.Dispatch(ctx, inv, actor).Result
}

// Dispatch is Execute with the full report.
func (e *Executor) Dispatch(ctx context.Context, inv models.ToolInvocation, actor *contracts.Identity) *Report {
	p, err := e.Prepare(inv)
	if err != nil {
		return &Report{Invocation: inv, Result: models.Failed("%s", err.Error())}
	}
	return e.Run(ctx, p, actor)
}

// Prepare looks the tool up and validates the arguments. Rejections are
// logged here and carry no side effect.
func (e *Executor) Prepare(inv models.ToolInvocation) (*Prepared, error) {
	tool, ok := e.registry.Lookup(inv.Name)
	if !ok {
		log.Warn().Str("tool", inv.Name).Str("call_id", inv.CallID).Msg("Invocation rejected: unknown tool")
		telemetry.RecordToolExecution("unknown", "rejected", 0)
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, inv.Name)
	}

	call, err := tool.Bind(inv.Arguments)
	if err != nil {
		log.Warn().
			Err(err).
			Str("tool", inv.Name).
			Str("call_id", inv.CallID).
			Interface("arguments", guardrails.RedactArguments(inv.Arguments)).
			Msg("Invocation rejected")
		telemetry.RecordToolExecution(inv.Name, "rejected", 0)
		return nil, err
	}

	return &Prepared{Invocation: inv, Declaration: tool.Declaration(), Call: call}, nil
}

type runResult struct {
	out tools.Outcome
	err error
}

// Run executes a prepared call. The handler runs on a context that ignores
// client cancellation, so a started side effect completes and is audited.
func (e *Executor) Run(ctx context.Context, p *Prepared, actor *contracts.Identity) *Report {
	decl := p.Declaration
	report := &Report{
		Invocation:  p.Invocation,
		Target:      p.Call.Target(),
		Destructive: decl.Destructive,
		Description: p.Call.Describe(),
	}
	if actor == nil {
		report.Result = models.Failed("unauthenticated")
		return report
	}

	ctx, span := telemetry.Tracer().Start(ctx, "tool."+decl.Name,
		trace.WithAttributes(
			attribute.String("tool.name", decl.Name),
			attribute.String("tool.call_id", p.Invocation.CallID),
			attribute.Bool("tool.destructive", decl.Destructive),
			attribute.String("actor.id", actor.Subject),
		),
	)
	defer span.End()

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan runResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("tool", decl.Name).
					Str("call_id", p.Invocation.CallID).
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Msg("Tool handler panicked")
				done <- runResult{err: errInternal}
			}
		}()
		out, err := p.Call.Run(runCtx, e.env)
		done <- runResult{out: out, err: err}
	}()

	var res runResult
	select {
	case res = <-done:
		if errors.Is(res.err, context.DeadlineExceeded) {
			res.err = e.timeoutError()
		}
	case <-runCtx.Done():
		res = runResult{err: e.timeoutError()}
		go e.finishLate(context.WithoutCancel(ctx), p, actor, start, done)
	}
	report.Duration = time.Since(start)

	if res.out.Target != (models.Target{}) {
		report.Target = res.out.Target
	}
	outcome := "success"
	if res.err != nil {
		outcome = "failure"
		report.Result = models.Failed("%s", res.err.Error())
		span.SetStatus(codes.Error, res.err.Error())
	} else {
		report.Result = models.Succeeded(guardrails.Redact(res.out.Data))
	}
	telemetry.RecordToolExecution(decl.Name, outcome, report.Duration)

	if !decl.ReadOnly {
		e.record(ctx, actor, report, nil)
	}

	log.Info().
		Str("tool", decl.Name).
		Str("call_id", p.Invocation.CallID).
		Str("actor", actor.Subject).
		Bool("success", report.Result.Success).
		Dur("duration", report.Duration).
		Msg("Tool executed")

	return report
}

// finishLate waits for a handler that outlived its timeout. A late success
// of a mutating tool is audited as its own record.
func (e *Executor) finishLate(ctx context.Context, p *Prepared, actor *contracts.Identity, start time.Time, done <-chan runResult) {
	late := <-done
	decl := p.Declaration
	log.Warn().Err(late.err).Str("tool", decl.Name).Str("call_id", p.Invocation.CallID).
		Msg("Tool handler finished after its timeout")
	if late.err != nil || decl.ReadOnly {
		return
	}

	telemetry.RecordToolExecution(decl.Name, "late_success", time.Since(start))
	target := p.Call.Target()
	if late.out.Target != (models.Target{}) {
		target = late.out.Target
	}
	r := &Report{
		Invocation:  p.Invocation,
		Target:      target,
		Destructive: decl.Destructive,
		Description: p.Call.Describe(),
		Result:      models.Succeeded(guardrails.Redact(late.out.Data)),
		Duration:    time.Since(start),
	}
	e.record(ctx, actor, r, map[string]any{"late_completion": true})
}

func (e *Executor) record(ctx context.Context, actor *contracts.Identity, r *Report, extra map[string]any) {
	if e.audit == nil {
		return
	}
	details := map[string]any{
		"call_id":     r.Invocation.CallID,
		"tool":        r.Invocation.Name,
		"success":     r.Result.Success,
		"destructive": r.Destructive,
		"arguments":   guardrails.RedactArguments(r.Invocation.Arguments),
		"duration_ms": r.Duration.Milliseconds(),
	}
	if r.Result.Error != "" {
		details["error"] = r.Result.Error
	}
	for k, v := range extra {
		details[k] = v
	}
	e.audit.Record(ctx, actor.Subject, audit.ActionName(r.Invocation.Name), r.Target.Table, r.Target.ID, details)
}

func (e *Executor) timeoutError() error {
	return fmt.Errorf("timed out after %s", e.timeout)
}
