// Package pipeline is the integration facade: it owns the resolver,
// harmonizer, executor, recorder and persistence wiring for one run, so
// concurrent runs (and tests) never share state. Sources register in join
// order; nothing is read until Materialize.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"omicscore/internal/annotate"
	"omicscore/internal/colstore"
	"omicscore/internal/join"
	"omicscore/internal/keys"
	"omicscore/internal/observability"
	"omicscore/internal/table"
	"omicscore/pkg/identifier"
)

// Pipeline integrates wrapped sources into one joined dataset.
type Pipeline struct {
	runID      string
	resolver   *keys.Resolver
	harmonizer *annotate.Harmonizer
	executor   join.Executor
	recorder   observability.Recorder
	store      *colstore.Store
	builder    *join.Builder
	sources    []string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithResolver supplies a prepared key resolver. The default is an empty
// resolver with the standard fallback strategies.
func WithResolver(r *keys.Resolver) Option {
	return func(p *Pipeline) { p.resolver = r }
}

// WithExecutor selects the plan executor. The default executes locally.
func WithExecutor(e join.Executor) Option {
	return func(p *Pipeline) { p.executor = e }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r observability.Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithStore enables Persist against the given columnar store.
func WithStore(s *colstore.Store) Option {
	return func(p *Pipeline) { p.store = s }
}

// New constructs a pipeline run with a fresh run identifier.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		runID:    uuid.NewString(),
		recorder: observability.Nop{},
		builder:  join.NewBuilder(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.resolver == nil {
		p.resolver = keys.NewResolver()
	}
	if p.harmonizer == nil {
		p.harmonizer = annotate.NewHarmonizer(p.resolver)
	}
	if p.executor == nil {
		p.executor = &join.LocalExecutor{Resolver: p.resolver}
	}
	return p
}

// RunID returns the unique identifier of this run.
func (p *Pipeline) RunID() string { return p.runID }

// Resolver exposes the run's key resolver for synonym source registration.
func (p *Pipeline) Resolver() *keys.Resolver { return p.resolver }

// Harmonizer exposes the run's annotation harmonizer for adapter
// registration.
func (p *Pipeline) Harmonizer() *annotate.Harmonizer { return p.harmonizer }

// Resolve declares that a registered table's key column must be rewritten
// into a canonical namespace when the plan executes.
type Resolve struct {
	Column string
	Raw    identifier.Namespace
	Target identifier.Namespace
	Strict bool
}

// RegisterTable appends a wrapped source in join order, optionally behind
// deferred key resolution steps. Registration is plan construction only.
func (p *Pipeline) RegisterTable(t *table.Table, resolves ...Resolve) error {
	if t == nil {
		return fmt.Errorf("pipeline %s: nil table", p.runID)
	}
	node := join.Scan(t)
	for _, res := range resolves {
		node = join.ResolveKeys(node, res.Column, res.Raw, res.Target, res.Strict)
	}
	p.builder.Add(node)
	p.sources = append(p.sources, t.Name())
	return nil
}

// RegisterAnnotation harmonizes an annotation source through its registered
// adapter and appends the resulting record table in join order. Unlike
// RegisterTable this reads src immediately: harmonization is an ingestion
// step, not a join step.
func (p *Pipeline) RegisterAnnotation(ctx context.Context, database string, src *table.Table, strict bool) error {
	started := time.Now()
	records, err := p.harmonizer.Harmonize(ctx, database, src, strict)
	p.recorder.Observe(ctx, "harmonize", err == nil, time.Since(started))
	if err != nil {
		return err
	}
	t, err := annotate.RecordsTable(database, records)
	if err != nil {
		return err
	}
	p.recorder.RecordRows(ctx, "harmonize", t.Len())
	return p.RegisterTable(t)
}

// Sources returns the registered source names in join order.
func (p *Pipeline) Sources() []string {
	return append([]string(nil), p.sources...)
}

// Plan builds the lazy left-deep join plan over the registered sources
// without executing it.
func (p *Pipeline) Plan(spec join.Spec) (*join.Plan, error) {
	return p.builder.Build(spec)
}

// Materialize builds and executes the join plan. This is the blocking point
// of a run; ctx cancels it.
func (p *Pipeline) Materialize(ctx context.Context, spec join.Spec) (*join.Dataset, error) {
	plan, err := p.Plan(spec)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	ds, err := p.executor.Execute(ctx, plan)
	p.recorder.Observe(ctx, "materialize", err == nil, time.Since(started))
	if err != nil {
		return nil, err
	}
	p.recorder.RecordRows(ctx, "materialize", ds.RowsAfter)
	return ds, nil
}

// Persist writes a materialized dataset into the configured columnar store.
func (p *Pipeline) Persist(ctx context.Context, dataset string, ds *join.Dataset, partition string) error {
	if p.store == nil {
		return fmt.Errorf("pipeline %s: no columnar store configured", p.runID)
	}
	started := time.Now()
	err := p.store.Write(ctx, dataset, ds, partition)
	p.recorder.Observe(ctx, "persist", err == nil, time.Since(started))
	if err != nil {
		return err
	}
	p.recorder.RecordRows(ctx, "persist", ds.RowsAfter)
	return nil
}
