package cli

import (
	"github.com/spf13/cobra"

	"github.com/chazu/kapply/pkg/apply"
	"github.com/chazu/kapply/pkg/manifest"
	"github.com/chazu/kapply/pkg/pipeline"
	"github.com/chazu/kapply/pkg/report"
)

type deleteOpts struct {
	*rootOpts
	sourceFlags

	DryRun             string
	Cascade            string
	Inventory          string
	InventoryNamespace string
	Output             string
	MetricsTextfile    string
}

func newDelete(parent *rootOpts) *deleteOpts {
	return &deleteOpts{rootOpts: parent}
}

func (opts *deleteOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the objects of manifests, dependents first.",
		RunE:  opts.RunE,
	}
	fs := cmd.Flags()
	addSourceFlags(fs, &opts.sourceFlags)
	addOutputFlag(fs, &opts.Output)
	fs.StringVar(&opts.DryRun, "dry-run", "none", "none, client (no API writes) or server (submit with dryRun=All)")
	fs.StringVar(&opts.Cascade, "cascade", "background", "propagation policy: background, foreground or orphan")
	fs.StringVar(&opts.Inventory, "inventory", "", "inventory ConfigMap to remove deleted objects from")
	fs.StringVar(&opts.InventoryNamespace, "inventory-namespace", "", "namespace of the inventory ConfigMap; defaults to the current namespace")
	fs.StringVar(&opts.MetricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file when done")
	return cmd
}

func (opts *deleteOpts) pipelineOptions(namespace string) (pipeline.Options, error) {
	o := pipeline.DefaultOptions()
	o.Sources = opts.Files

	dryRun, err := apply.ParseDryRunMode(opts.DryRun)
	if err != nil {
		return o, err
	}
	o.DryRun = dryRun

	propagation, err := parseCascade(opts.Cascade)
	if err != nil {
		return o, err
	}
	o.PropagationPolicy = propagation

	o.Inventory = opts.Inventory
	o.InventoryNamespace = opts.InventoryNamespace
	if o.InventoryNamespace == "" {
		o.InventoryNamespace = namespace
	}
	return o, o.Validate()
}

func (opts *deleteOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if err := opts.sourceFlags.validate(); err != nil {
		return err
	}
	if _, err := report.NewPrinter(opts.Output); err != nil {
		return newUsageError(err.Error())
	}
	if _, err := opts.pipelineOptions(manifest.DefaultNamespace); err != nil {
		return newUsageError(err.Error())
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

	r, runErr := p.Delete(cmd.Context(), o)
	return finish(cmd, r, runErr, opts.Output, opts.MetricsTextfile)
}
