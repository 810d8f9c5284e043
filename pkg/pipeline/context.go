package pipeline

import (
	"github.com/authzed/controller-idioms/queue"
	"github.com/authzed/controller-idioms/typedctx"

	"github.com/chazu/kapply/pkg/apply"
	"github.com/chazu/kapply/pkg/graph"
	"github.com/chazu/kapply/pkg/inventory"
	"github.com/chazu/kapply/pkg/manifest"
	"github.com/chazu/kapply/pkg/report"
	"github.com/chazu/kapply/pkg/source"
)

// Context keys shared by the handlers of a run
var (
	// CtxQueue stops the chain on error
	CtxQueue = queue.NewQueueOperationsCtx()

	// CtxOptions holds the options of the run
	CtxOptions = typedctx.NewKey[Options]()

	// CtxSources holds the fetched sources
	CtxSources = typedctx.NewKey[[]*source.FetchResult]()

	// CtxDescriptors holds the parsed manifests
	CtxDescriptors = typedctx.NewKey[[]manifest.Descriptor]()

	// CtxGraph is the ordered apply graph
	CtxGraph = typedctx.NewKey[*graph.Graph]()

	// CtxDAG is the executable DAG built from CtxGraph
	CtxDAG = typedctx.NewKey[*graph.DAG]()

	// CtxState is the executor state after the execute handler
	CtxState = typedctx.NewKey[*graph.ExecutionState]()

	// CtxDeletions holds the results of the delete handler
	CtxDeletions = typedctx.NewKey[[]apply.Deletion]()

	// CtxTracker is the inventory loaded for prune and record-inventory
	CtxTracker = typedctx.NewKey[*inventory.Tracker]()

	// CtxPrune is the prune result, nil when pruning did not run
	CtxPrune = typedctx.NewKey[*apply.PruneResult]()

	// CtxResult receives the outputs a run hands back to its caller
	CtxResult = typedctx.NewKey[*Result]()
)

// Result collects what a run produced
type Result struct {
	Graph  *graph.Graph
	DAG    *graph.DAG
	Report *report.Report
}
