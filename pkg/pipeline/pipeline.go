package pipeline

import (
	"context"
	"time"

	"github.com/authzed/controller-idioms/handler"
	"github.com/authzed/controller-idioms/queue"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/kapply/pkg/apply"
	"github.com/chazu/kapply/pkg/graph"
	"github.com/chazu/kapply/pkg/manifest"
	"github.com/chazu/kapply/pkg/readiness"
	"github.com/chazu/kapply/pkg/report"
	"github.com/chazu/kapply/pkg/source"
)

// Pipeline runs the apply, plan and delete chains
type Pipeline struct {
	apply   handler.Handler
	plan    handler.Handler
	destroy handler.Handler
}

// New creates a pipeline. c may be nil when only Plan is used.
func New(c client.Client, sources *source.Registry, namespacer manifest.Namespacer) *Pipeline {
	var checker graph.ReadinessChecker
	if c != nil {
		checker = readiness.NewChecker(c)
	}
	return NewWithHandlers(NewHandlers(c, sources, namespacer, checker))
}

// NewWithHandlers creates a pipeline from a prepared handler collection
func NewWithHandlers(h *Handlers) *Pipeline {
	return &Pipeline{
		apply: handler.Chain(
			h.FetchSources(),
			h.LoadManifests(),
			h.DefaultNamespaces(),
			h.OrderResources(),
			h.LoadInventory(),
			h.Execute(),
			h.Prune(),
			h.RecordInventory(),
			h.Report(),
		).Handler("apply"),
		plan: handler.Chain(
			h.FetchSources(),
			h.LoadManifests(),
			h.DefaultNamespaces(),
			h.OrderResources(),
			h.FinishPlan(),
		).Handler("plan"),
		destroy: handler.Chain(
			h.FetchSources(),
			h.LoadManifests(),
			h.DefaultNamespaces(),
			h.OrderResources(),
			h.DeleteResources(),
			h.ForgetInventory(),
			h.DeleteReport(),
		).Handler("delete"),
	}
}

// Run applies the resources of opts.Sources. The report is returned even
// when some resources failed; the error is reserved for failures of the
// run itself. An interrupted run returns its partial report and the error.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*report.Report, error) {
	res, err := p.run(ctx, p.apply, opts)
	return res.Report, err
}

// Plan loads and orders the resources without contacting the cluster,
// unless the namespacer does
func (p *Pipeline) Plan(ctx context.Context, opts Options) (*graph.Graph, *graph.DAG, error) {
	res, err := p.run(ctx, p.plan, opts)
	return res.Graph, res.DAG, err
}

// Delete removes the resources of opts.Sources in reverse apply order
func (p *Pipeline) Delete(ctx context.Context, opts Options) (*report.Report, error) {
	res, err := p.run(ctx, p.destroy, opts)
	return res.Report, err
}

func (p *Pipeline) run(ctx context.Context, h handler.Handler, opts Options) (*Result, error) {
	res := &Result{}
	if opts.DryRun == "" {
		opts.DryRun = apply.DryRunNone
	}
	if err := opts.Validate(); err != nil {
		return res, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	queueOps := queue.NewOperations(
		func() {},
		func(time.Duration) {},
		cancel,
	)

	ctx = CtxQueue.WithValue(ctx, queueOps)
	ctx = CtxOptions.WithValue(ctx, opts)
	ctx = CtxResult.WithValue(ctx, res)

	log.FromContext(ctx).V(1).Info("Starting run", "sources", opts.Sources, "dryRun", opts.DryRun)
	h.Handle(ctx)

	if err := queueOps.Error(); err != nil {
		return res, err
	}
	return res, nil
}
