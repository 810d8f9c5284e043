package cli

import (
	"context"
	"errors"
	"flag"
	"strings"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

var rootLongHelp = strings.TrimSpace(`
kapply applies Kubernetes manifests in dependency order.

Workflow:
  kapply plan -f ./deploy --offline          # Which order would be used?
  kapply apply -f ./deploy --dry-run server  # What would change?
  kapply apply -f ./deploy --prune --inventory shop
  kapply delete -f ./deploy                  # Remove it again, dependents first.
`)

type rootOpts struct {
	Kubeconfig string
	Context    string
	Namespace  string

	zapOpts zap.Options
}

func newRoot() *rootOpts {
	return &rootOpts{zapOpts: zap.Options{Development: false}}
}

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "kapply",
		Long:              rootLongHelp,
		SilenceUsage:      true,
		PersistentPreRunE: opts.PersistentPreRunE,
	}
	cmd.PersistentFlags().StringVar(&opts.Kubeconfig, "kubeconfig", "", "path to the kubeconfig file; defaults to $KUBECONFIG or ~/.kube/config")
	cmd.PersistentFlags().StringVar(&opts.Context, "context", "", "kubeconfig context to use")
	cmd.PersistentFlags().StringVarP(&opts.Namespace, "namespace", "n", "", "namespace for objects that do not set one")

	zapFlags := flag.NewFlagSet("zap", flag.ContinueOnError)
	opts.zapOpts.BindFlags(zapFlags)
	cmd.PersistentFlags().AddGoFlagSet(zapFlags)

	return cmd
}

func (opts *rootOpts) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts.zapOpts), zap.WriteTo(cmd.ErrOrStderr())))
	return nil
}

// NewCommand builds the kapply command tree
func NewCommand() *cobra.Command {
	root := newRoot()

	rootCmd := root.Command()
	rootCmd.AddCommand(
		newApply(root).Command(),
		newPlan(root).Command(),
		newDelete(root).Command(),
		newVersion().Command(),
	)
	return rootCmd
}

// Execute runs the command tree with args and returns the exit code
func Execute(ctx context.Context, args []string) int {
	rootCmd := NewCommand()
	rootCmd.SetArgs(args)

	cmd, err := rootCmd.ExecuteContextC(ctx)
	if err != nil {
		var usage usageError
		if errors.As(err, &usage) {
			cmd.Println("")
			cmd.Println(cmd.UsageString())
		}
		return 1
	}
	return 0
}
