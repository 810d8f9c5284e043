package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/chazu/kapply/pkg/apply"
	"github.com/chazu/kapply/pkg/graph"
	"github.com/chazu/kapply/pkg/manifest"
	"github.com/chazu/kapply/pkg/metrics"
	"github.com/chazu/kapply/pkg/pipeline"
	"github.com/chazu/kapply/pkg/report"
)

type applyOpts struct {
	*rootOpts
	sourceFlags

	DryRun             string
	Mode               string
	FieldManager       string
	ForceConflicts     bool
	StrictOrder        bool
	Prune              bool
	PrunePolicy        string
	Cascade            string
	Inventory          string
	InventoryNamespace string
	Wait               bool
	Timeout            time.Duration
	Concurrency        int
	Retries            int
	ContinueOnError    bool
	Output             string
	MetricsTextfile    string
}

func newApply(parent *rootOpts) *applyOpts {
	return &applyOpts{rootOpts: parent}
}

func (opts *applyOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply manifests in dependency order.",
		Example: `  kapply apply -f ./deploy
  kapply apply -f 'git::https://github.com/org/repo?ref=v1.2.0&path=deploy' --wait
  kapply apply -f ./deploy --prune --inventory shop`,
		RunE: opts.RunE,
	}
	fs := cmd.Flags()
	addSourceFlags(fs, &opts.sourceFlags)
	addOutputFlag(fs, &opts.Output)
	fs.StringVar(&opts.DryRun, "dry-run", "none", "none, client (no API writes) or server (submit with dryRun=All)")
	fs.StringVar(&opts.Mode, "mode", "apply", "apply (server-side apply), create or adopt")
	fs.StringVar(&opts.FieldManager, "field-manager", graph.DefaultFieldManager, "field manager for server-side apply")
	fs.BoolVar(&opts.ForceConflicts, "force-conflicts", false, "take ownership of fields owned by other managers")
	fs.BoolVar(&opts.StrictOrder, "strict-order", true, "make every object wait for the previous populated kind rank")
	fs.BoolVar(&opts.Prune, "prune", false, "delete objects recorded in the inventory that are no longer in the sources")
	fs.StringVar(&opts.PrunePolicy, "prune-policy", "delete", "delete pruned objects, or orphan them (forget without deleting)")
	fs.StringVar(&opts.Cascade, "cascade", "background", "propagation policy for pruned objects: background, foreground or orphan")
	fs.StringVar(&opts.Inventory, "inventory", "", "name of the inventory ConfigMap")
	fs.StringVar(&opts.InventoryNamespace, "inventory-namespace", "", "namespace of the inventory ConfigMap; defaults to the current namespace")
	fs.BoolVar(&opts.Wait, "wait", false, "wait for each object to become ready before applying its dependents")
	fs.DurationVar(&opts.Timeout, "timeout", 5*time.Minute, "readiness timeout per object with --wait")
	fs.IntVar(&opts.Concurrency, "concurrency", 10, "objects applied at once within a wave; 1 applies sequentially")
	fs.IntVar(&opts.Retries, "retries", 3, "retries per object after a failed apply")
	fs.BoolVar(&opts.ContinueOnError, "continue-on-error", true, "keep applying independent objects after a failure")
	fs.StringVar(&opts.MetricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file when done")
	return cmd
}

// Validate checks flag values that do not need the cluster
func (opts *applyOpts) Validate() error {
	if err := opts.sourceFlags.validate(); err != nil {
		return err
	}
	if _, err := report.NewPrinter(opts.Output); err != nil {
		return newUsageError(err.Error())
	}
	if _, err := opts.pipelineOptions(manifest.DefaultNamespace); err != nil {
		return newUsageError(err.Error())
	}
	return nil
}

// pipelineOptions converts the flags; namespace is the current namespace
func (opts *applyOpts) pipelineOptions(namespace string) (pipeline.Options, error) {
	o := pipeline.DefaultOptions()
	o.Sources = opts.Files

	dryRun, err := apply.ParseDryRunMode(opts.DryRun)
	if err != nil {
		return o, err
	}
	o.DryRun = dryRun

	mode, err := graph.ParseApplyMode(opts.Mode)
	if err != nil {
		return o, err
	}
	o.Order.Policy.Mode = mode
	o.Order.Policy.FieldManager = opts.FieldManager
	if opts.ForceConflicts {
		o.Order.Policy.ConflictPolicy = graph.ConflictPolicyForce
	}
	o.Order.StrictKindOrder = opts.StrictOrder
	o.Order.Wait = opts.Wait
	o.Order.WaitTimeout = opts.Timeout

	if opts.Concurrency < 1 {
		return o, fmt.Errorf("--concurrency must be at least 1")
	}
	if opts.Retries < 0 {
		return o, fmt.Errorf("--retries must not be negative")
	}
	o.Executor.MaxConcurrency = opts.Concurrency
	o.Executor.MaxRetries = opts.Retries
	o.Executor.ContinueOnError = opts.ContinueOnError
	if opts.Timeout > 0 {
		o.Executor.ReadyTimeout = opts.Timeout
	}

	o.Inventory = opts.Inventory
	o.InventoryNamespace = opts.InventoryNamespace
	if o.InventoryNamespace == "" {
		o.InventoryNamespace = namespace
	}
	o.Prune = opts.Prune

	switch opts.PrunePolicy {
	case "", "delete":
		o.DeletionPolicy = apply.DeletionPolicyDelete
	case "orphan":
		o.DeletionPolicy = apply.DeletionPolicyOrphan
	default:
		return o, fmt.Errorf("invalid --prune-policy %q (want delete or orphan)", opts.PrunePolicy)
	}

	propagation, err := parseCascade(opts.Cascade)
	if err != nil {
		return o, err
	}
	o.PropagationPolicy = propagation

	return o, o.Validate()
}

func parseCascade(s string) (*metav1.DeletionPropagation, error) {
	var p metav1.DeletionPropagation
	switch s {
	case "", "background":
		p = metav1.DeletePropagationBackground
	case "foreground":
		p = metav1.DeletePropagationForeground
	case "orphan":
		p = metav1.DeletePropagationOrphan
	default:
		return nil, fmt.Errorf("invalid --cascade %q (want background, foreground or orphan)", s)
	}
	return &p, nil
}

func (opts *applyOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	cl, err := opts.connect()
	if err != nil {
		return err
	}
	o, err := opts.pipelineOptions(cl.namespace)
	if err != nil {
		return err
	}

	p := pipeline.New(cl.client,
		opts.registry(cl.client, cl.namespace),
		manifest.NewNamespacer(cl.discovery, cl.namespace))

	r, runErr := p.Run(cmd.Context(), o)
	return finish(cmd, r, runErr, opts.Output, opts.MetricsTextfile)
}

// finish prints r, writes the metrics file and turns failures into the
// command error
func finish(cmd *cobra.Command, r *report.Report, runErr error, output, metricsFile string) error {
	if r != nil {
		printer, err := report.NewPrinter(output)
		if err != nil {
			return err
		}
		if err := printer.Print(cmd.OutOrStdout(), r); err != nil {
			return err
		}
	}
	if metricsFile != "" {
		if err := metrics.WriteTextfile(metricsFile); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	if r != nil {
		return r.Err()
	}
	return nil
}
