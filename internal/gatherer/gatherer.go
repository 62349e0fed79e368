// Package gatherer builds the per-request business snapshot that grounds the
// model in live numbers. Sources run in parallel, each under its own timeout;
// a failing source is left out of the snapshot and never fails the request.
package gatherer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/adminpilot/control-plane/internal/store"
	"github.com/adminpilot/control-plane/internal/telemetry"
	"github.com/adminpilot/control-plane/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTimeout     = 3 * time.Second
	DefaultRecentLimit = 20
	DefaultConcurrency = 4
)

// Source is one independent query contributing a section to the snapshot.
type Source struct {
	Name  string
	Fetch func(ctx context.Context, s store.Store, recent int) (any, error)
}

// Options tune the gatherer. Zero values select the defaults.
type Options struct {
	Timeout     time.Duration
	RecentLimit int
	Concurrency int
}

// Gatherer assembles Snapshots from a fixed source plan per request context.
type Gatherer struct {
	store store.Store
	opts  Options
	plans map[models.RequestContext][]Source
	now   func() time.Time
}

// New creates a gatherer with the built-in source plans.
func New(s store.Store, opts Options) *Gatherer {
	return NewWithPlans(s, opts, defaultPlans())
}

// NewWithPlans creates a gatherer with custom source plans. Contexts without
// a plan fall back to the general plan.
func NewWithPlans(s store.Store, opts Options, plans map[models.RequestContext][]Source) *Gatherer {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = DefaultRecentLimit
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Gatherer{store: s, opts: opts, plans: plans, now: time.Now}
}

type sourceResult struct {
	data any
	err  error
}

// Gather runs every source planned for rc and joins the results. It never
// returns an error; failures are recorded in Snapshot.Failures.
func (g *Gatherer) Gather(ctx context.Context, rc models.RequestContext) *Snapshot {
	if !rc.Valid() {
		rc = models.ContextGeneral
	}
	sources, ok := g.plans[rc]
	if !ok {
		sources = g.plans[models.ContextGeneral]
	}

	ctx, span := telemetry.Tracer().Start(ctx, "context.gather",
		trace.WithAttributes(
			attribute.String("context", string(rc)),
			attribute.Int("sources", len(sources)),
		),
	)
	defer span.End()

	snap := &Snapshot{
		Context:     rc,
		GeneratedAt: g.now().UTC(),
		Sections:    make(map[string]any, len(sources)),
		Failures:    make(map[string]string),
	}
	var mu sync.Mutex

	var eg errgroup.Group
	eg.SetLimit(g.opts.Concurrency)
	for _, src := range sources {
		eg.Go(func() error {
			res := g.fetch(ctx, src)
			mu.Lock()
			defer mu.Unlock()
			if res.err != nil {
				snap.Failures[src.Name] = failureReason(res.err)
				telemetry.RecordContextSourceFailure(src.Name)
				log.Warn().Err(res.err).Str("source", src.Name).Str("context", string(rc)).
					Msg("Context source failed")
				return nil
			}
			snap.Sections[src.Name] = res.data
			return nil
		})
	}
	_ = eg.Wait()

	span.SetAttributes(attribute.Int("failures", len(snap.Failures)))
	return snap
}

// fetch runs one source under the per-source timeout. A source that ignores
// its context is abandoned when the timeout fires.
func (g *Gatherer) fetch(ctx context.Context, src Source) sourceResult {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	done := make(chan sourceResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("source", src.Name).Str("stack", string(debug.Stack())).
					Msg("Context source panicked")
				done <- sourceResult{err: fmt.Errorf("source panicked")}
			}
		}()
		data, err := src.Fetch(ctx, g.store, g.opts.RecentLimit)
		done <- sourceResult{data: data, err: err}
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return sourceResult{err: ctx.Err()}
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "unavailable"
	}
}
