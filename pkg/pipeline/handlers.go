package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/authzed/controller-idioms/handler"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/kapply/pkg/apply"
	"github.com/chazu/kapply/pkg/graph"
	"github.com/chazu/kapply/pkg/inventory"
	"github.com/chazu/kapply/pkg/manifest"
	"github.com/chazu/kapply/pkg/order"
	"github.com/chazu/kapply/pkg/report"
	"github.com/chazu/kapply/pkg/source"
)

// Handler IDs
const (
	FetchSourcesID      handler.Key = "fetch-sources"
	LoadManifestsID     handler.Key = "load-manifests"
	DefaultNamespacesID handler.Key = "default-namespaces"
	OrderResourcesID    handler.Key = "order-resources"
	LoadInventoryID     handler.Key = "load-inventory"
	ExecuteID           handler.Key = "execute"
	PruneID             handler.Key = "prune"
	RecordInventoryID   handler.Key = "record-inventory"
	ReportID            handler.Key = "report"
	FinishPlanID        handler.Key = "finish-plan"
	DeleteResourcesID   handler.Key = "delete-resources"
	ForgetInventoryID   handler.Key = "forget-inventory"
	DeleteReportID      handler.Key = "delete-report"
)

// Handlers builds the handlers of every chain
type Handlers struct {
	client     client.Client
	sources    *source.Registry
	namespacer manifest.Namespacer
	readiness  graph.ReadinessChecker
}

// NewHandlers creates a handler collection. c may be nil for chains that
// never reach the cluster; readiness may be nil when no node waits.
func NewHandlers(c client.Client, sources *source.Registry, namespacer manifest.Namespacer, readiness graph.ReadinessChecker) *Handlers {
	return &Handlers{
		client:     c,
		sources:    sources,
		namespacer: namespacer,
		readiness:  readiness,
	}
}

func (h *Handlers) store(opts Options) *inventory.Store {
	return inventory.NewStore(h.client, opts.InventoryNamespace, opts.Inventory)
}

// FetchSourcesHandler fetches every source reference
type FetchSourcesHandler struct {
	sources *source.Registry
	next    handler.Handler
}

func (h *FetchSourcesHandler) Handle(ctx context.Context) {
	opts := CtxOptions.MustValue(ctx)

	results, err := h.sources.FetchAll(ctx, opts.Sources)
	if err != nil {
		CtxQueue.RequeueErr(ctx, err)
		return
	}

	ctx = CtxSources.WithValue(ctx, results)
	h.next.Handle(ctx)
}

// FetchSources returns a handler builder for fetching sources
func (h *Handlers) FetchSources() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&FetchSourcesHandler{
				sources: h.sources,
				next:    handler.Handlers(next).MustOne(),
			},
			FetchSourcesID,
		)
	}
}

// LoadManifestsHandler parses the fetched files into descriptors
type LoadManifestsHandler struct {
	next handler.Handler
}

func (h *LoadManifestsHandler) Handle(ctx context.Context) {
	results := CtxSources.MustValue(ctx)

	var files []manifest.File
	var names []string
	for _, r := range results {
		files = append(files, r.Files...)
		names = append(names, r.Source)
	}

	descs, err := manifest.ParseFiles(files)
	if err != nil {
		CtxQueue.RequeueErr(ctx, err)
		return
	}
	if len(descs) == 0 {
		CtxQueue.RequeueErr(ctx, fmt.Errorf("no resources found in %s", strings.Join(names, ", ")))
		return
	}

	log.FromContext(ctx).V(1).Info("Loaded manifests", "files", len(files), "resources", len(descs))

	ctx = CtxDescriptors.WithValue(ctx, descs)
	h.next.Handle(ctx)
}

// LoadManifests returns a handler builder for parsing manifests
func (h *Handlers) LoadManifests() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&LoadManifestsHandler{
				next: handler.Handlers(next).MustOne(),
			},
			LoadManifestsID,
		)
	}
}

// DefaultNamespacesHandler fills in effective namespaces
type DefaultNamespacesHandler struct {
	namespacer manifest.Namespacer
	next       handler.Handler
}

func (h *DefaultNamespacesHandler) Handle(ctx context.Context) {
	descs := CtxDescriptors.MustValue(ctx)

	if err := manifest.ApplyNamespaces(descs, h.namespacer); err != nil {
		CtxQueue.RequeueErr(ctx, err)
		return
	}

	h.next.Handle(ctx)
}

// DefaultNamespaces returns a handler builder for namespace defaulting
func (h *Handlers) DefaultNamespaces() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&DefaultNamespacesHandler{
				namespacer: h.namespacer,
				next:       handler.Handlers(next).MustOne(),
			},
			DefaultNamespacesID,
		)
	}
}

// OrderResourcesHandler builds the graph and DAG
type OrderResourcesHandler struct {
	next handler.Handler
}

func (h *OrderResourcesHandler) Handle(ctx context.Context) {
	opts := CtxOptions.MustValue(ctx)
	descs := CtxDescriptors.MustValue(ctx)

	orderOpts := opts.Order
	if opts.Inventory != "" {
		orderOpts.Name = opts.Inventory
	}

	g, dag, err := order.New(orderOpts).Plan(descs)
	if err != nil {
		CtxQueue.RequeueErr(ctx, err)
		return
	}

	log.FromContext(ctx).Info("Ordered resources",
		"nodes", len(g.Nodes),
		"waves", len(order.Waves(dag)),
		"hash", g.Metadata.Hash)

	res := CtxResult.MustValue(ctx)
	res.Graph = g
	res.DAG = dag

	ctx = CtxGraph.WithValue(ctx, g)
	ctx = CtxDAG.WithValue(ctx, dag)
	h.next.Handle(ctx)
}

// OrderResources returns a handler builder for ordering
func (h *Handlers) OrderResources() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&OrderResourcesHandler{
				next: handler.Handlers(next).MustOne(),
			},
			OrderResourcesID,
		)
	}
}

// ExecuteHandler applies the DAG
type ExecuteHandler struct {
	client    client.Client
	readiness graph.ReadinessChecker
	next      handler.Handler
}

func (h *ExecuteHandler) Handle(ctx context.Context) {
	opts := CtxOptions.MustValue(ctx)
	dag := CtxDAG.MustValue(ctx)

	applier := apply.NewApplier(h.client).
		WithDryRun(opts.DryRun).
		WithInventory(opts.Inventory)
	if tracker, ok := CtxTracker.Value(ctx); ok {
		applier = applier.WithTracker(tracker)
	}

	// Nothing becomes ready in a dry run.
	checker := h.readiness
	if opts.DryRun != apply.DryRunNone {
		checker = nil
	}

	state, err := graph.NewExecutor(applier, checker, opts.Executor).Execute(ctx, dag)
	if err != nil {
		if state != nil {
			CtxResult.MustValue(ctx).Report = report.FromExecution(dag, state)
		}
		CtxQueue.RequeueErr(ctx, fmt.Errorf("executing graph: %w", err))
		return
	}

	summary := state.GetSummary()
	log.FromContext(ctx).Info("Executed graph",
		"ready", summary.Ready,
		"failed", summary.Error,
		"skipped", summary.Skipped)

	ctx = CtxState.WithValue(ctx, state)
	h.next.Handle(ctx)
}

// Execute returns a handler builder for DAG execution
func (h *Handlers) Execute() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&ExecuteHandler{
				client:    h.client,
				readiness: h.readiness,
				next:      handler.Handlers(next).MustOne(),
			},
			ExecuteID,
		)
	}
}

// LoadInventoryHandler loads the inventory named by the options, if any
type LoadInventoryHandler struct {
	handlers *Handlers
	next     handler.Handler
}

func (h *LoadInventoryHandler) Handle(ctx context.Context) {
	opts := CtxOptions.MustValue(ctx)
	if opts.Inventory == "" {
		h.next.Handle(ctx)
		return
	}

	tracker, _, err := h.handlers.store(opts).Load(ctx)
	if err != nil {
		CtxQueue.RequeueErr(ctx, err)
		return
	}
	log.FromContext(ctx).V(1).Info("Loaded inventory", "inventory", opts.Inventory, "items", tracker.Size())

	ctx = CtxTracker.WithValue(ctx, tracker)
	h.next.Handle(ctx)
}

// LoadInventory returns a handler builder for loading the inventory
func (h *Handlers) LoadInventory() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&LoadInventoryHandler{
				handlers: h,
				next:     handler.Handlers(next).MustOne(),
			},
			LoadInventoryID,
		)
	}
}

// PruneHandler prunes what the current set no longer contains
type PruneHandler struct {
	handlers *Handlers
	next     handler.Handler
}

func (h *PruneHandler) Handle(ctx context.Context) {
	logger := log.FromContext(ctx)
	opts := CtxOptions.MustValue(ctx)

	tracker, ok := CtxTracker.Value(ctx)
	if !ok || !opts.Prune {
		h.next.Handle(ctx)
		return
	}

	state := CtxState.MustValue(ctx)
	if state.HasErrors() {
		logger.Info("Skipping prune after failed resources", "inventory", opts.Inventory)
		h.next.Handle(ctx)
		return
	}

	result, err := apply.NewPruner(h.handlers.client).Prune(ctx, tracker, currentIDs(CtxDAG.MustValue(ctx)), opts.pruneOptions())
	if err != nil {
		CtxQueue.RequeueErr(ctx, fmt.Errorf("pruning: %w", err))
		return
	}

	ctx = CtxPrune.WithValue(ctx, result)
	h.next.Handle(ctx)
}

// Prune returns a handler builder for pruning
func (h *Handlers) Prune() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&PruneHandler{
				handlers: h,
				next:     handler.Handlers(next).MustOne(),
			},
			PruneID,
		)
	}
}

func currentIDs(dag *graph.DAG) map[string]bool {
	ids := make(map[string]bool, dag.Size())
	for _, id := range dag.GetOrder() {
		ids[id] = true
	}
	return ids
}

// RecordInventoryHandler records the outcome of every node and saves the
// inventory
type RecordInventoryHandler struct {
	handlers *Handlers
	next     handler.Handler
}

func (h *RecordInventoryHandler) Handle(ctx context.Context) {
	opts := CtxOptions.MustValue(ctx)
	tracker, ok := CtxTracker.Value(ctx)
	if !ok || opts.DryRun != apply.DryRunNone {
		h.next.Handle(ctx)
		return
	}

	dag := CtxDAG.MustValue(ctx)
	state := CtxState.MustValue(ctx)
	for _, id := range dag.GetOrder() {
		node, ok := dag.GetNode(id)
		if !ok {
			continue
		}
		st, err := state.GetState(id)
		if err != nil {
			continue
		}
		switch {
		case st == graph.NodeStateReady && node.ApplyPolicy.Mode == graph.ApplyModeAdopt:
			tracker.RecordAdopted(id, &node.Object)
		case st == graph.NodeStateReady:
			tracker.RecordApplied(id, &node.Object)
		case st == graph.NodeStateError:
			tracker.RecordFailed(id, &node.Object)
		}
	}

	if removed := apply.NewPruner(h.handlers.client).CleanupOrphaned(tracker); removed > 0 {
		log.FromContext(ctx).V(1).Info("Dropped pruned entries", "count", removed)
	}

	g := CtxGraph.MustValue(ctx)
	if err := h.handlers.store(opts).Save(ctx, tracker, g.Metadata.Hash); err != nil {
		CtxQueue.RequeueErr(ctx, err)
		return
	}
	log.FromContext(ctx).V(1).Info("Saved inventory", "inventory", opts.Inventory, "items", tracker.Size())

	h.next.Handle(ctx)
}

// RecordInventory returns a handler builder for saving the inventory
func (h *Handlers) RecordInventory() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&RecordInventoryHandler{
				handlers: h,
				next:     handler.Handlers(next).MustOne(),
			},
			RecordInventoryID,
		)
	}
}

// ReportHandler builds the apply report; it ends the chain
type ReportHandler struct{}

func (h *ReportHandler) Handle(ctx context.Context) {
	opts := CtxOptions.MustValue(ctx)
	g := CtxGraph.MustValue(ctx)

	r := report.FromExecution(CtxDAG.MustValue(ctx), CtxState.MustValue(ctx))
	r.GraphHash = g.Metadata.Hash
	if opts.DryRun != apply.DryRunNone {
		r.DryRun = string(opts.DryRun)
	}
	if pruned, ok := CtxPrune.Value(ctx); ok {
		r.AddPrune(pruned)
	}

	CtxResult.MustValue(ctx).Report = r
	CtxQueue.Done(ctx)
}

// Report returns a handler builder for the report
func (h *Handlers) Report() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(&ReportHandler{}, ReportID)
	}
}

// FinishPlanHandler ends the plan chain
type FinishPlanHandler struct{}

func (h *FinishPlanHandler) Handle(ctx context.Context) {
	CtxQueue.Done(ctx)
}

// FinishPlan returns a handler builder that ends the plan chain
func (h *Handlers) FinishPlan() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(&FinishPlanHandler{}, FinishPlanID)
	}
}

// DeleteResourcesHandler deletes the DAG in reverse order
type DeleteResourcesHandler struct {
	client client.Client
	next   handler.Handler
}

func (h *DeleteResourcesHandler) Handle(ctx context.Context) {
	opts := CtxOptions.MustValue(ctx)
	dag := CtxDAG.MustValue(ctx)

	deletions, err := apply.NewDeleter(h.client).Delete(ctx, dag, apply.DeleteOptions{
		DryRun:            opts.DryRun,
		PropagationPolicy: opts.PropagationPolicy,
	})
	if err != nil {
		CtxResult.MustValue(ctx).Report = report.FromDeletions(dag, deletions)
		CtxQueue.RequeueErr(ctx, fmt.Errorf("deleting resources: %w", err))
		return
	}

	ctx = CtxDeletions.WithValue(ctx, deletions)
	h.next.Handle(ctx)
}

// DeleteResources returns a handler builder for deletion
func (h *Handlers) DeleteResources() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&DeleteResourcesHandler{
				client: h.client,
				next:   handler.Handlers(next).MustOne(),
			},
			DeleteResourcesID,
		)
	}
}

// ForgetInventoryHandler drops deleted objects from the inventory
type ForgetInventoryHandler struct {
	handlers *Handlers
	next     handler.Handler
}

func (h *ForgetInventoryHandler) Handle(ctx context.Context) {
	opts := CtxOptions.MustValue(ctx)
	if opts.Inventory == "" || opts.DryRun != apply.DryRunNone {
		h.next.Handle(ctx)
		return
	}

	store := h.handlers.store(opts)
	tracker, hash, err := store.Load(ctx)
	if err != nil {
		CtxQueue.RequeueErr(ctx, err)
		return
	}
	loaded := tracker.Generation()
	for _, d := range CtxDeletions.MustValue(ctx) {
		if _, tracked := tracker.Get(d.ID); tracked && d.Err == nil {
			tracker.Remove(d.ID)
		}
	}
	if tracker.Generation() == loaded {
		h.next.Handle(ctx)
		return
	}
	if err := store.Save(ctx, tracker, hash); err != nil {
		CtxQueue.RequeueErr(ctx, err)
		return
	}

	h.next.Handle(ctx)
}

// ForgetInventory returns a handler builder for inventory cleanup
func (h *Handlers) ForgetInventory() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&ForgetInventoryHandler{
				handlers: h,
				next:     handler.Handlers(next).MustOne(),
			},
			ForgetInventoryID,
		)
	}
}

// DeleteReportHandler builds the delete report; it ends the chain
type DeleteReportHandler struct{}

func (h *DeleteReportHandler) Handle(ctx context.Context) {
	opts := CtxOptions.MustValue(ctx)

	r := report.FromDeletions(CtxDAG.MustValue(ctx), CtxDeletions.MustValue(ctx))
	r.GraphHash = CtxGraph.MustValue(ctx).Metadata.Hash
	if opts.DryRun != apply.DryRunNone {
		r.DryRun = string(opts.DryRun)
	}

	CtxResult.MustValue(ctx).Report = r
	CtxQueue.Done(ctx)
}

// DeleteReport returns a handler builder for the delete report
func (h *Handlers) DeleteReport() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(&DeleteReportHandler{}, DeleteReportID)
	}
}
