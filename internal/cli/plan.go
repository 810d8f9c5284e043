package cli

import (
	"github.com/spf13/cobra"

	"github.com/chazu/kapply/pkg/manifest"
	"github.com/chazu/kapply/pkg/pipeline"
	"github.com/chazu/kapply/pkg/report"
)

type planOpts struct {
	*rootOpts
	sourceFlags

	Offline     bool
	StrictOrder bool
	Output      string
}

func newPlan(parent *rootOpts) *planOpts {
	return &planOpts{rootOpts: parent}
}

func (opts *planOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the apply order of manifests, wave by wave.",
		RunE:  opts.RunE,
	}
	fs := cmd.Flags()
	addSourceFlags(fs, &opts.sourceFlags)
	addOutputFlag(fs, &opts.Output)
	fs.BoolVar(&opts.Offline, "offline", false, "resolve resource scopes from a built-in table instead of cluster discovery")
	fs.BoolVar(&opts.StrictOrder, "strict-order", true, "make every object wait for the previous populated kind rank")
	return cmd
}

func (opts *planOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if err := opts.sourceFlags.validate(); err != nil {
		return err
	}

	var p *pipeline.Pipeline
	if opts.Offline {
		ns := opts.offlineNamespace()
		p = pipeline.New(nil, opts.registry(nil, ns), manifest.StaticNamespacer{Fallback: ns})
	} else {
		cl, err := opts.connect()
		if err != nil {
			return err
		}
		p = pipeline.New(cl.client,
			opts.registry(cl.client, cl.namespace),
			manifest.NewNamespacer(cl.discovery, cl.namespace))
	}

	o := pipeline.DefaultOptions()
	o.Sources = opts.Files
	o.Order.StrictKindOrder = opts.StrictOrder

	g, dag, err := p.Plan(cmd.Context(), o)
	if err != nil {
		return err
	}
	return report.FromPlan(g, dag).Print(cmd.OutOrStdout(), opts.Output)
}
