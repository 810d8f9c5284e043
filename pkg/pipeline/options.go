package pipeline

import (
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/chazu/kapply/pkg/apply"
	"github.com/chazu/kapply/pkg/graph"
	"github.com/chazu/kapply/pkg/order"
)

// Options configure one run of the pipeline
type Options struct {
	// Sources are the manifest references to fetch, in order
	Sources []string

	// Order configures graph construction
	Order order.Options

	// Executor configures the DAG executor
	Executor graph.ExecutorConfig

	// DryRun selects whether changes reach the API server
	DryRun apply.DryRunMode

	// Inventory names the inventory ConfigMap; empty disables
	// inventory tracking
	Inventory string

	// InventoryNamespace is where the inventory ConfigMap lives
	InventoryNamespace string

	// Prune deletes inventory entries missing from the current set
	Prune bool

	// DeletionPolicy applies to pruned objects
	DeletionPolicy apply.DeletionPolicy

	// PropagationPolicy is used for prune and delete
	PropagationPolicy *metav1.DeletionPropagation
}

// DefaultOptions returns options for a plain apply
func DefaultOptions() Options {
	background := metav1.DeletePropagationBackground
	return Options{
		Order:              order.DefaultOptions(),
		Executor:           graph.DefaultExecutorConfig(),
		DryRun:             apply.DryRunNone,
		InventoryNamespace: "default",
		DeletionPolicy:     apply.DeletionPolicyDelete,
		PropagationPolicy:  &background,
	}
}

// Validate checks that the options are usable
func (o Options) Validate() error {
	if len(o.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}
	if o.Prune && o.Inventory == "" {
		return fmt.Errorf("pruning requires an inventory name")
	}
	if o.Inventory != "" && o.InventoryNamespace == "" {
		return fmt.Errorf("inventory %q needs a namespace", o.Inventory)
	}
	if err := o.Order.Policy.Validate(); err != nil {
		return err
	}
	switch o.DryRun {
	case "", apply.DryRunNone, apply.DryRunClient, apply.DryRunServer:
	default:
		return fmt.Errorf("invalid dry-run mode: %s", o.DryRun)
	}
	switch o.DeletionPolicy {
	case "", apply.DeletionPolicyDelete, apply.DeletionPolicyOrphan:
	default:
		return fmt.Errorf("invalid deletion policy: %s", o.DeletionPolicy)
	}
	return nil
}

func (o Options) pruneOptions() apply.PruneOptions {
	opts := apply.DefaultPruneOptions()
	if o.DeletionPolicy != "" {
		opts.DeletionPolicy = o.DeletionPolicy
	}
	if o.PropagationPolicy != nil {
		opts.PropagationPolicy = o.PropagationPolicy
	}
	opts.DryRun = o.DryRun
	opts.Inventory = o.Inventory
	return opts
}
